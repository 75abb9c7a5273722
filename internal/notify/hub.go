package notify

import (
	"context"
	"sync"
)

// Hub is an in-process Notifier. Updates reach only subscribers of this
// process.
type Hub struct {
	mu sync.RWMutex

	// documents maps document ID to its subscriptions by ID
	documents map[string]map[string]*Subscription

	buffer int
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		documents: make(map[string]map[string]*Subscription),
		buffer:    DefaultBuffer,
	}
}

// Subscribe adds a subscription to a document's broadcast list.
func (h *Hub) Subscribe(ctx context.Context, docID string) (*Subscription, error) {
	sub := NewSubscription(ctx, docID, h.buffer, h.unsubscribe)

	h.mu.Lock()
	defer h.mu.Unlock()

	// ctx may already be done, in which case the subscription is cancelled.
	select {
	case <-sub.Done():
		return sub, nil
	default:
	}

	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]*Subscription)
	}

	h.documents[docID][sub.ID()] = sub

	return sub, nil
}

// unsubscribe removes a subscription from its document's broadcast list.
func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.documents[sub.DocID()]; ok {
		delete(subs, sub.ID())

		if len(subs) == 0 {
			delete(h.documents, sub.DocID())
		}
	}
}

// Publish delivers the update to every subscriber of the document.
func (h *Hub) Publish(_ context.Context, docID string, version int) error {
	h.Broadcast(Update{DocID: docID, Version: version})

	return nil
}

// Broadcast delivers u to every subscriber of u.DocID without blocking.
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.documents[u.DocID] {
		sub.Deliver(u)
	}
}

// SubscriberCount returns the number of subscriptions for a document.
func (h *Hub) SubscriberCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.documents[docID])
}

// TotalSubscribers returns the number of subscriptions across documents.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, subs := range h.documents {
		total += len(subs)
	}

	return total
}

var _ Notifier = (*Hub)(nil)
