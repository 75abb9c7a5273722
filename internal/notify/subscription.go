// Package notify fans out "document D reached version N" hints to watchers.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the number of undelivered updates a subscription holds
// before the oldest is dropped.
const DefaultBuffer = 16

// Update announces that a document reached a version. Updates are hints:
// consumers re-fetch with OperationsSince.
type Update struct {
	DocID   string `json:"docId"`
	Version int    `json:"version"`
}

// Notifier publishes and subscribes to document version updates.
type Notifier interface {
	// Publish announces that docID reached version.
	Publish(ctx context.Context, docID string, version int) error

	// Subscribe starts delivering updates for docID. The subscription ends
	// when ctx is done or Cancel is called.
	Subscribe(ctx context.Context, docID string) (*Subscription, error)
}

// Subscription is a cancellable stream of updates for one document.
type Subscription struct {
	id      string
	docID   string
	updates chan Update
	done    chan struct{}

	mu      sync.Mutex // Guards stop and serializes Deliver
	once    sync.Once
	release func(*Subscription)
	stop    func() bool
}

// NewSubscription creates a subscription whose release func runs exactly once
// when it is cancelled. Cancelling ctx cancels the subscription.
func NewSubscription(ctx context.Context, docID string, buffer int, release func(*Subscription)) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	s := &Subscription{
		id:      uuid.NewString(),
		docID:   docID,
		updates: make(chan Update, buffer),
		done:    make(chan struct{}),
		release: release,
	}
	stop := context.AfterFunc(ctx, s.Cancel)

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	return s
}

// ID identifies the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// DocID returns the watched document.
func (s *Subscription) DocID() string {
	return s.docID
}

// Updates returns the update stream. It is never closed; select on Done too.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel ends the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()

		if stop != nil {
			stop()
		}

		if s.release != nil {
			s.release(s)
		}
	})
}

// Deliver queues u without blocking. When the buffer is full the oldest
// queued update is dropped. It reports false once the subscription is done.
func (s *Subscription) Deliver(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}

	for {
		select {
		case s.updates <- u:
			return true
		default:
		}

		select {
		case <-s.updates:
		default:
		}
	}
}
