// Package mongo stores documents and operation logs in MongoDB.
//
// Every write runs in a multi-document transaction, so the server must be a
// replica set. A document's version is the number of its operation records,
// counted in the same transaction that reads or moves the snapshot. The unique
// (doc_id, position) index backs the count when two commits race.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

type documentRecord struct {
	ID        string    `bson:"_id"`
	Snapshot  string    `bson:"snapshot"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type operationRecord struct {
	DocID       string    `bson:"doc_id"`
	Position    int       `bson:"position"`
	Payload     string    `bson:"payload"`
	ClientID    string    `bson:"client_id"`
	CommittedAt time.Time `bson:"committed_at"`
}

// Store is a storage.Store backed by two MongoDB collections.
type Store struct {
	client     *mongo.Client
	documents  *mongo.Collection
	operations *mongo.Collection
	logger     *zap.Logger
	now        func() time.Time
}

// Open connects to uri and prepares the collections in database.
func Open(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:     client,
		documents:  db.Collection("documents"),
		operations: db.Collection("operations"),
		logger:     logger,
		now:        time.Now,
	}

	_, err = s.operations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "doc_id", Value: 1},
			{Key: "position", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info("mongo store ready", zap.String("database", database))

	return s, nil
}

// CreateDocument inserts a new document with an empty log.
func (s *Store) CreateDocument(ctx context.Context, docID, snapshot string) (storage.Document, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	rec := documentRecord{ID: docID, Snapshot: snapshot, CreatedAt: now, UpdatedAt: now}

	_, err := s.documents.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return storage.Document{}, storage.ErrDocumentExists
	}

	if err != nil {
		return storage.Document{}, fmt.Errorf("insert document: %w", err)
	}

	return toDocument(rec, 0), nil
}

// LoadDocument reads the snapshot and counts the log in one transaction.
func (s *Store) LoadDocument(ctx context.Context, docID string) (storage.Document, error) {
	var doc storage.Document

	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		rec, err := s.findDocument(sc, docID)
		if err != nil {
			return err
		}

		count, err := s.countOperations(sc, docID)
		if err != nil {
			return err
		}

		doc = toDocument(rec, count)

		return nil
	})

	return doc, err
}

// Append inserts one record at count+1.
func (s *Store) Append(ctx context.Context, docID string, op ot.SequencedOperation) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		count, err := s.Count(sc, docID)
		if err != nil {
			return err
		}

		switch {
		case op.Position >= 1 && op.Position <= count:
			return storage.ErrPositionConflict
		case op.Position != count+1:
			return storage.ErrPositionGap
		}

		_, err = s.operations.InsertOne(sc, s.record(docID, op))
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrPositionConflict
		}

		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}

		return s.touch(sc, docID, bson.M{})
	})
}

// ListSince returns the records after version in position order.
func (s *Store) ListSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	if _, err := s.findDocument(ctx, docID); err != nil {
		return nil, err
	}

	filter := bson.M{
		"doc_id":   docID,
		"position": bson.M{"$gt": version},
	}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})

	cursor, err := s.operations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find operations: %w", err)
	}

	var records []operationRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}

	ops := make([]ot.SequencedOperation, len(records))
	for i, rec := range records {
		ops[i] = ot.SequencedOperation{
			Position:    rec.Position,
			Payload:     rec.Payload,
			ClientID:    rec.ClientID,
			CommittedAt: rec.CommittedAt,
		}
	}

	return ops, nil
}

// Count returns the number of records in the log.
func (s *Store) Count(ctx context.Context, docID string) (int, error) {
	if _, err := s.findDocument(ctx, docID); err != nil {
		return 0, err
	}

	return s.countOperations(ctx, docID)
}

// Commit inserts the records and replaces the snapshot in one transaction.
// A racing commit either sees the moved count or aborts on a write conflict
// and is retried by the driver, after which it sees the moved count.
func (s *Store) Commit(ctx context.Context, docID string, base int, ops []ot.SequencedOperation, snapshot string) error {
	if err := storage.CheckPositions(base, ops); err != nil {
		return err
	}

	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		count, err := s.Count(sc, docID)
		if err != nil {
			return err
		}

		if count != base {
			s.logger.Debug("commit base is stale",
				zap.String("doc_id", docID), zap.Int("base", base), zap.Int("count", count))

			return storage.ErrVersionMismatch
		}

		if len(ops) > 0 {
			docs := make([]any, len(ops))
			for i, op := range ops {
				docs[i] = s.record(docID, op)
			}

			_, err = s.operations.InsertMany(sc, docs, options.InsertMany().SetOrdered(true))
			if mongo.IsDuplicateKeyError(err) {
				return storage.ErrVersionMismatch
			}

			if err != nil {
				return fmt.Errorf("insert operations: %w", err)
			}
		}

		return s.touch(sc, docID, bson.M{"snapshot": snapshot})
	})
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}

func (s *Store) findDocument(ctx context.Context, docID string) (documentRecord, error) {
	var rec documentRecord

	err := s.documents.FindOne(ctx, bson.M{"_id": docID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return documentRecord{}, storage.ErrDocumentNotFound
	}

	if err != nil {
		return documentRecord{}, fmt.Errorf("find document: %w", err)
	}

	return rec, nil
}

func (s *Store) record(docID string, op ot.SequencedOperation) operationRecord {
	committed := op.CommittedAt
	if committed.IsZero() {
		committed = s.now()
	}

	return operationRecord{
		DocID:       docID,
		Position:    op.Position,
		Payload:     op.Payload,
		ClientID:    op.ClientID,
		CommittedAt: committed.UTC(),
	}
}

// withTransaction runs fn in a snapshot transaction. Sentinel errors returned
// by fn abort the transaction and come back unchanged.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	}, opts)

	return err
}

func (s *Store) countOperations(ctx context.Context, docID string) (int, error) {
	n, err := s.operations.CountDocuments(ctx, bson.M{"doc_id": docID})
	if err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}

	return int(n), nil
}

// touch sets fields and updated_at on the document.
func (s *Store) touch(ctx context.Context, docID string, set bson.M) error {
	set["updated_at"] = s.now().UTC()

	res, err := s.documents.UpdateOne(ctx, bson.M{"_id": docID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if res.MatchedCount == 0 {
		return storage.ErrDocumentNotFound
	}

	return nil
}

func toDocument(rec documentRecord, version int) storage.Document {
	return storage.Document{
		ID:        rec.ID,
		Snapshot:  rec.Snapshot,
		Version:   version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

var _ storage.Store = (*Store)(nil)
