package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/serroba/online-notes/internal/ot"
)

// ErrDiverged is returned when replaying the log does not reproduce the
// persisted snapshot.
var ErrDiverged = errors.New("snapshot diverged from operation log")

// DocumentLoader rebuilds a document from its operation log.
type DocumentLoader struct {
	store Store
	codec ot.Codec
}

// NewDocumentLoader creates a loader that folds logs with codec.
func NewDocumentLoader(store Store, codec ot.Codec) *DocumentLoader {
	return &DocumentLoader{store: store, codec: codec}
}

// LoadResult contains the persisted and the replayed state of a document.
type LoadResult struct {
	Persisted Document // Snapshot as stored
	Replayed  string   // Fold of the first Persisted.Version operations
	Skipped   []int    // Positions that could not apply during replay
}

// Load reads the persisted document and replays its log from the empty
// snapshot up to the persisted version.
func (l *DocumentLoader) Load(ctx context.Context, docID string) (LoadResult, error) {
	doc, err := l.store.LoadDocument(ctx, docID)
	if err != nil {
		return LoadResult{}, err
	}

	ops, err := l.store.ListSince(ctx, docID, 0)
	if err != nil {
		return LoadResult{}, err
	}

	// Later commits may land between the two reads.
	if len(ops) < doc.Version {
		return LoadResult{}, fmt.Errorf("%w: log has %d operations, snapshot is at %d", ErrDiverged, len(ops), doc.Version)
	}

	ops = ops[:doc.Version]
	if err := CheckPositions(0, ops); err != nil {
		return LoadResult{}, fmt.Errorf("%w: %w", ErrDiverged, err)
	}

	payloads := make([]string, len(ops))
	for i, op := range ops {
		payloads[i] = op.Payload
	}

	batch := ot.ApplyBatch(l.codec, l.codec.Empty(), payloads)

	result := LoadResult{Persisted: doc, Replayed: batch.Snapshot}
	for _, i := range batch.Skipped {
		result.Skipped = append(result.Skipped, ops[i].Position)
	}

	return result, nil
}

// Verify reports ErrDiverged when the replayed state differs from the
// persisted snapshot.
func (l *DocumentLoader) Verify(ctx context.Context, docID string) (LoadResult, error) {
	result, err := l.Load(ctx, docID)
	if err != nil {
		return result, err
	}

	if result.Replayed != result.Persisted.Snapshot {
		return result, fmt.Errorf("%w: document %s at version %d", ErrDiverged, docID, result.Persisted.Version)
	}

	return result, nil
}
