package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix namespaces the Redis channels used for version updates.
const ChannelPrefix = "notes:doc:"

// RedisNotifier fans updates out across server replicas through Redis
// pub/sub. Each subscription holds its own Redis subscription.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
	buffer int
}

// NewRedisNotifier creates a notifier over rdb.
func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger, buffer: DefaultBuffer}
}

// Channel returns the Redis channel carrying updates for docID.
func Channel(docID string) string {
	return ChannelPrefix + docID
}

// Publish sends the update to every replica.
func (n *RedisNotifier) Publish(ctx context.Context, docID string, version int) error {
	payload, err := json.Marshal(Update{DocID: docID, Version: version})
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	if err := n.rdb.Publish(ctx, Channel(docID), payload).Err(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}

	return nil
}

// Subscribe opens a Redis subscription for docID and relays its messages.
func (n *RedisNotifier) Subscribe(ctx context.Context, docID string) (*Subscription, error) {
	pubsub := n.rdb.Subscribe(ctx, Channel(docID))

	// Wait for the confirmation so no update published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, fmt.Errorf("subscribe to %s: %w", Channel(docID), err)
	}

	sub := NewSubscription(ctx, docID, n.buffer, func(*Subscription) {
		_ = pubsub.Close()
	})

	go n.relay(sub, pubsub.Channel())

	return sub, nil
}

func (n *RedisNotifier) relay(sub *Subscription, messages <-chan *redis.Message) {
	for {
		select {
		case <-sub.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				sub.Cancel()

				return
			}

			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				n.logger.Warn("dropping malformed update",
					zap.String("channel", msg.Channel),
					zap.Error(err))

				continue
			}

			sub.Deliver(u)
		}
	}
}

var _ Notifier = (*RedisNotifier)(nil)
