// Package postgres stores documents and operation logs in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS operations (
	doc_id       TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	client_id    TEXT NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (doc_id, position)
);`

// Store is a storage.Store backed by a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to databaseURL and creates the schema if needed.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()

		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("postgres store ready")

	return &Store{pool: pool, logger: logger}, nil
}

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, docID, snapshot string) (storage.Document, error) {
	doc := storage.Document{ID: docID, Snapshot: snapshot}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (id, snapshot) VALUES ($1, $2) RETURNING created_at, updated_at`,
		docID, snapshot,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.Document{}, storage.ErrDocumentExists
	}

	if err != nil {
		return storage.Document{}, fmt.Errorf("insert document: %w", err)
	}

	return doc, nil
}

// LoadDocument reads the snapshot and counts the log in one statement.
func (s *Store) LoadDocument(ctx context.Context, docID string) (storage.Document, error) {
	doc := storage.Document{ID: docID}

	err := s.pool.QueryRow(ctx, `
		SELECT d.snapshot, d.created_at, d.updated_at,
		       (SELECT count(*) FROM operations o WHERE o.doc_id = d.id)
		FROM documents d WHERE d.id = $1`,
		docID,
	).Scan(&doc.Snapshot, &doc.CreatedAt, &doc.UpdatedAt, &doc.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Document{}, storage.ErrDocumentNotFound
	}

	if err != nil {
		return storage.Document{}, fmt.Errorf("load document: %w", err)
	}

	return doc, nil
}

// Append inserts one record at count+1.
func (s *Store) Append(ctx context.Context, docID string, op ot.SequencedOperation) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		count, err := lockAndCount(ctx, tx, docID)
		if err != nil {
			return err
		}

		switch {
		case op.Position >= 1 && op.Position <= count:
			return storage.ErrPositionConflict
		case op.Position != count+1:
			return storage.ErrPositionGap
		}

		return insertOperation(ctx, tx, docID, op)
	})
}

// ListSince returns the records after version in position order.
func (s *Store) ListSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureDocument(ctx, tx, docID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT position, payload, client_id, committed_at
		FROM operations WHERE doc_id = $1 AND position > $2
		ORDER BY position`,
		docID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ot.SequencedOperation, error) {
		var op ot.SequencedOperation
		err := row.Scan(&op.Position, &op.Payload, &op.ClientID, &op.CommittedAt)

		return op, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan operations: %w", err)
	}

	return ops, tx.Commit(ctx)
}

// Count returns the number of records in the log.
func (s *Store) Count(ctx context.Context, docID string) (int, error) {
	doc, err := s.LoadDocument(ctx, docID)

	return doc.Version, err
}

// Commit locks the document row, checks the base version and writes the batch
// and the new snapshot in one transaction.
func (s *Store) Commit(ctx context.Context, docID string, base int, ops []ot.SequencedOperation, snapshot string) error {
	if err := storage.CheckPositions(base, ops); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		count, err := lockAndCount(ctx, tx, docID)
		if err != nil {
			return err
		}

		if count != base {
			return storage.ErrVersionMismatch
		}

		for _, op := range ops {
			if err := insertOperation(ctx, tx, docID, op); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `UPDATE documents SET snapshot = $2, updated_at = now() WHERE id = $1`, docID, snapshot)
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}

		return nil
	})
	if errors.Is(err, storage.ErrPositionConflict) {
		s.logger.Error("position conflict under row lock", zap.String("doc_id", docID), zap.Int("base", base))
	}

	return err
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

func lockAndCount(ctx context.Context, tx pgx.Tx, docID string) (int, error) {
	var id string

	err := tx.QueryRow(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, docID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrDocumentNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("lock document: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM operations WHERE doc_id = $1`, docID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}

	return count, nil
}

func ensureDocument(ctx context.Context, tx pgx.Tx, docID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, docID).Scan(&exists); err != nil {
		return fmt.Errorf("check document: %w", err)
	}

	if !exists {
		return storage.ErrDocumentNotFound
	}

	return nil
}

func insertOperation(ctx context.Context, tx pgx.Tx, docID string, op ot.SequencedOperation) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO operations (doc_id, position, payload, client_id) VALUES ($1, $2, $3, $4)`,
		docID, op.Position, op.Payload, op.ClientID,
	)
	if isUniqueViolation(err) {
		return storage.ErrPositionConflict
	}

	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ storage.Store = (*Store)(nil)
