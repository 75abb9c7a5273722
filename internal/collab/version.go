package collab

import (
	"context"

	"github.com/serroba/online-notes/internal/storage"
)

// Resolver answers "what is the current version of D".
type Resolver struct {
	store storage.Store
}

// NewResolver creates a resolver over store.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Version returns the number of committed operations of docID.
func (r *Resolver) Version(ctx context.Context, docID string) (int, error) {
	return r.store.Count(ctx, docID)
}
