package storage

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/online-notes/internal/ot"
)

// documentData holds all persisted data for a single document.
type documentData struct {
	doc        Document
	operations []ot.SequencedOperation
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*documentData
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
		now:  time.Now,
	}
}

// CreateDocument creates a new document with the given snapshot.
func (m *MemoryStore) CreateDocument(_ context.Context, docID, snapshot string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; exists {
		return Document{}, ErrDocumentExists
	}

	now := m.now()
	data := &documentData{
		doc: Document{
			ID:        docID,
			Snapshot:  snapshot,
			CreatedAt: now,
			UpdatedAt: now,
		},
		operations: make([]ot.SequencedOperation, 0),
	}
	m.docs[docID] = data

	return data.doc, nil
}

// LoadDocument returns the document snapshot and its version.
func (m *MemoryStore) LoadDocument(_ context.Context, docID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[docID]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}

	doc := data.doc
	doc.Version = len(data.operations)

	return doc, nil
}

// Append adds an operation to the document's log.
func (m *MemoryStore) Append(_ context.Context, docID string, op ot.SequencedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	switch count := len(data.operations); {
	case op.Position >= 1 && op.Position <= count:
		return ErrPositionConflict
	case op.Position != count+1:
		return ErrPositionGap
	}

	data.operations = append(data.operations, m.stamp(op))

	return nil
}

// ListSince returns all operations after the given version.
func (m *MemoryStore) ListSince(_ context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[docID]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	// Positions are contiguous from 1, so position p lives at index p-1.
	from := max(version, 0)
	if from >= len(data.operations) {
		return []ot.SequencedOperation{}, nil
	}

	result := make([]ot.SequencedOperation, len(data.operations)-from)
	copy(result, data.operations[from:])

	return result, nil
}

// Count returns the number of logged operations.
func (m *MemoryStore) Count(_ context.Context, docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	return len(data.operations), nil
}

// Commit appends ops and swaps the snapshot under the store lock.
func (m *MemoryStore) Commit(_ context.Context, docID string, base int, ops []ot.SequencedOperation, snapshot string) error {
	if err := CheckPositions(base, ops); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	if len(data.operations) != base {
		return ErrVersionMismatch
	}

	for _, op := range ops {
		data.operations = append(data.operations, m.stamp(op))
	}

	data.doc.Snapshot = snapshot
	data.doc.UpdatedAt = m.now()

	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) stamp(op ot.SequencedOperation) ot.SequencedOperation {
	if op.CommittedAt.IsZero() {
		op.CommittedAt = m.now()
	}

	return op
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
