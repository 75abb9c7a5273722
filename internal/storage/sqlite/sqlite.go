// Package sqlite stores documents and operation logs in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		snapshot   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operations (
		doc_id       TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		client_id    TEXT NOT NULL,
		committed_at INTEGER NOT NULL,
		PRIMARY KEY (doc_id, position)
	)`,
}

// Store is a storage.Store backed by database/sql and go-sqlite3.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer at a time; immediate transactions serialize commits.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	logger.Info("sqlite store ready", zap.String("path", path))

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, docID, snapshot string) (storage.Document, error) {
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		docID, snapshot, now.UnixNano(), now.UnixNano(),
	)
	if isConstraintViolation(err) {
		return storage.Document{}, storage.ErrDocumentExists
	}

	if err != nil {
		return storage.Document{}, fmt.Errorf("insert document: %w", err)
	}

	return storage.Document{ID: docID, Snapshot: snapshot, CreatedAt: now, UpdatedAt: now}, nil
}

// LoadDocument reads the snapshot and counts the log in one statement.
func (s *Store) LoadDocument(ctx context.Context, docID string) (storage.Document, error) {
	var created, updated int64

	doc := storage.Document{ID: docID}

	err := s.db.QueryRowContext(ctx, `
		SELECT d.snapshot, d.created_at, d.updated_at,
		       (SELECT count(*) FROM operations o WHERE o.doc_id = d.id)
		FROM documents d WHERE d.id = ?`,
		docID,
	).Scan(&doc.Snapshot, &created, &updated, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, storage.ErrDocumentNotFound
	}

	if err != nil {
		return storage.Document{}, fmt.Errorf("load document: %w", err)
	}

	doc.CreatedAt = time.Unix(0, created).UTC()
	doc.UpdatedAt = time.Unix(0, updated).UTC()

	return doc, nil
}

// Append inserts one record at count+1.
func (s *Store) Append(ctx context.Context, docID string, op ot.SequencedOperation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		count, err := countIn(ctx, tx, docID)
		if err != nil {
			return err
		}

		switch {
		case op.Position >= 1 && op.Position <= count:
			return storage.ErrPositionConflict
		case op.Position != count+1:
			return storage.ErrPositionGap
		}

		return s.insertOperation(ctx, tx, docID, op)
	})
}

// ListSince returns the records after version in position order.
func (s *Store) ListSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	var ops []ot.SequencedOperation

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := countIn(ctx, tx, docID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT position, payload, client_id, committed_at
			FROM operations WHERE doc_id = ? AND position > ?
			ORDER BY position`,
			docID, version,
		)
		if err != nil {
			return fmt.Errorf("list operations: %w", err)
		}
		defer rows.Close()

		ops = make([]ot.SequencedOperation, 0)

		for rows.Next() {
			var (
				op        ot.SequencedOperation
				committed int64
			)

			if err := rows.Scan(&op.Position, &op.Payload, &op.ClientID, &committed); err != nil {
				return fmt.Errorf("scan operation: %w", err)
			}

			op.CommittedAt = time.Unix(0, committed).UTC()
			ops = append(ops, op)
		}

		return rows.Err()
	})

	return ops, err
}

// Count returns the number of records in the log.
func (s *Store) Count(ctx context.Context, docID string) (int, error) {
	doc, err := s.LoadDocument(ctx, docID)

	return doc.Version, err
}

// Commit checks the base version and writes the batch and the new snapshot in
// one immediate transaction.
func (s *Store) Commit(ctx context.Context, docID string, base int, ops []ot.SequencedOperation, snapshot string) error {
	if err := storage.CheckPositions(base, ops); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		count, err := countIn(ctx, tx, docID)
		if err != nil {
			return err
		}

		if count != base {
			return storage.ErrVersionMismatch
		}

		for _, op := range ops {
			if err := s.insertOperation(ctx, tx, docID, op); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET snapshot = ?, updated_at = ? WHERE id = ?`,
			snapshot, s.now().UTC().UnixNano(), docID,
		)
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}

		return nil
	})
	if errors.Is(err, storage.ErrPositionConflict) {
		s.logger.Error("position conflict inside write transaction", zap.String("doc_id", docID), zap.Int("base", base))
	}

	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) insertOperation(ctx context.Context, tx *sql.Tx, docID string, op ot.SequencedOperation) error {
	committed := op.CommittedAt
	if committed.IsZero() {
		committed = s.now()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO operations (doc_id, position, payload, client_id, committed_at) VALUES (?, ?, ?, ?, ?)`,
		docID, op.Position, op.Payload, op.ClientID, committed.UTC().UnixNano(),
	)
	if isConstraintViolation(err) {
		return storage.ErrPositionConflict
	}

	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	return nil
}

func countIn(ctx context.Context, tx *sql.Tx, docID string) (int, error) {
	var count int

	err := tx.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM operations o WHERE o.doc_id = d.id)
		FROM documents d WHERE d.id = ?`,
		docID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrDocumentNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}

	return count, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

var _ storage.Store = (*Store)(nil)
