package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrSessionClosed = errors.New("session is closed")
)

// Session serializes submissions for a single document within this process.
// The store's Commit settles races between processes.
type Session struct {
	docID string

	mu     sync.Mutex
	closed bool

	lastActive atomic.Int64 // Unix nanoseconds
	now        func() time.Time

	// Dependencies
	store    storage.Store
	resolver *Resolver
	codec    ot.Codec
	notifier notify.Notifier
	logger   *zap.Logger
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocID    string
	Store    storage.Store
	Codec    ot.Codec
	Notifier notify.Notifier
	Logger   *zap.Logger
	Clock    func() time.Time // Defaults to time.Now
}

// NewSession creates a new submission session for one document.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Codec == nil {
		cfg.Codec = ot.JSONPatchCodec{}
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Session{
		docID:    cfg.DocID,
		now:      cfg.Clock,
		store:    cfg.Store,
		resolver: NewResolver(cfg.Store),
		codec:    cfg.Codec,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With(zap.String("doc_id", cfg.DocID)),
	}
	s.touch()

	return s
}

// Submit runs the optimistic-concurrency protocol for one batch.
func (s *Session) Submit(ctx context.Context, clientID string, clientVersion int, ops []string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	s.touch()

	version, err := s.resolver.Version(ctx, s.docID)
	if err != nil {
		return 0, err
	}

	if clientVersion != version {
		s.logger.Debug("stale submission rejected",
			zap.String("client_id", clientID),
			zap.Int("client_version", clientVersion),
			zap.Int("version", version))

		return Rejected, nil
	}

	if len(ops) == 0 {
		return Accepted, nil
	}

	doc, err := s.store.LoadDocument(ctx, s.docID)
	if err != nil {
		return 0, err
	}

	// Another process committed between the count and the load.
	if doc.Version != version {
		return Rejected, nil
	}

	batch := ot.ApplyBatch(s.codec, doc.Snapshot, ops)
	if len(batch.Skipped) > 0 {
		s.logger.Warn("skipped inapplicable operations",
			zap.String("client_id", clientID),
			zap.Int("base", version),
			zap.Ints("indexes", batch.Skipped))
	}

	if err := s.commit(ctx, clientID, version, ops, batch.Snapshot); err != nil {
		if errors.Is(err, storage.ErrVersionMismatch) {
			return Rejected, nil
		}

		return 0, err
	}

	s.publish(ctx, version+len(ops))

	return Accepted, nil
}

// commit appends ops at positions base+1.. with the folded snapshot.
func (s *Session) commit(ctx context.Context, clientID string, base int, ops []string, snapshot string) error {
	records := make([]ot.SequencedOperation, len(ops))
	for i, op := range ops {
		records[i] = ot.SequencedOperation{
			Position: base + i + 1,
			Payload:  op,
			ClientID: clientID,
		}
	}

	err := s.store.Commit(ctx, s.docID, base, records, snapshot)

	switch {
	case err == nil, errors.Is(err, storage.ErrVersionMismatch):
		return err
	case errors.Is(err, storage.ErrPositionConflict):
		s.logger.Error("position conflict after version check",
			zap.String("client_id", clientID),
			zap.Int("base", base),
			zap.Error(err))

		return err
	default:
		return fmt.Errorf("commit operations: %w", err)
	}
}

// publish tells watchers about the new version. Failures only cost latency,
// since watchers also poll.
func (s *Session) publish(ctx context.Context, version int) {
	if s.notifier == nil {
		return
	}

	if err := s.notifier.Publish(context.WithoutCancel(ctx), s.docID, version); err != nil {
		s.logger.Warn("failed to publish version update", zap.Int("version", version), zap.Error(err))
	}
}

// DocID returns the document ID for this session.
func (s *Session) DocID() string {
	return s.docID
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// LastActive returns when the session was created or last saw a submission.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Close stops the session from accepting submissions.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}
