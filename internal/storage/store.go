package storage

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/online-notes/internal/ot"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")

	// ErrPositionConflict means a record already exists at (docID, position).
	// Under correct locking this never happens.
	ErrPositionConflict = errors.New("operation position already taken")

	// ErrPositionGap means an operation was not positioned at count+1.
	ErrPositionGap = errors.New("operation position leaves a gap")

	// ErrVersionMismatch means the log moved past the base version of a commit.
	ErrVersionMismatch = errors.New("document version changed")
)

// Document is the persisted state of a note.
// Version is the number of operations folded into Snapshot.
type Document struct {
	ID        string
	Snapshot  string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists documents and their append-only operation logs.
// Implementations can use in-memory storage, databases, or other backends.
type Store interface {
	// CreateDocument creates a document with the given initial snapshot.
	// Returns ErrDocumentExists if the document already exists.
	CreateDocument(ctx context.Context, docID, snapshot string) (Document, error)

	// LoadDocument returns the snapshot together with the version it was
	// folded at, read under one consistent view.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LoadDocument(ctx context.Context, docID string) (Document, error)

	// Append adds one record to the log. The record must sit at count+1.
	// Returns ErrPositionConflict if the position is taken, ErrPositionGap if
	// it skips ahead and ErrDocumentNotFound for unknown documents.
	Append(ctx context.Context, docID string, op ot.SequencedOperation) error

	// ListSince returns every record with position > version, ascending.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	ListSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error)

	// Count returns the number of records in the log.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	Count(ctx context.Context, docID string) (int, error)

	// Commit atomically appends ops at positions base+1.. and replaces the
	// snapshot. Returns ErrVersionMismatch if the log no longer holds exactly
	// base records.
	Commit(ctx context.Context, docID string, base int, ops []ot.SequencedOperation, snapshot string) error

	// Close releases the underlying resources.
	Close() error
}

// CheckPositions verifies that ops are numbered base+1, base+2, ...
func CheckPositions(base int, ops []ot.SequencedOperation) error {
	for i, op := range ops {
		if op.Position != base+i+1 {
			return ErrPositionGap
		}
	}

	return nil
}
