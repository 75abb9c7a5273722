package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

// DocumentState is a snapshot together with the version it was folded at.
type DocumentState struct {
	DocID   string `json:"docId"`
	Doc     string `json:"doc"`
	Version int    `json:"version"`
}

// Config holds the dependencies of a Service.
type Config struct {
	Store    storage.Store
	Codec    ot.Codec        // Defaults to ot.JSONPatchCodec
	Notifier notify.Notifier // Defaults to an in-process hub
	Logger   *zap.Logger     // Defaults to a no-op logger

	// SessionIdleTimeout closes sessions without submissions for this long.
	// Zero keeps them until Close.
	SessionIdleTimeout time.Duration
}

// Service is the server-side authority for documents: it linearizes
// submissions, persists them and answers catch-up reads.
type Service struct {
	store    storage.Store
	codec    ot.Codec
	notifier notify.Notifier
	manager  *Manager
	loader   *storage.DocumentLoader
	logger   *zap.Logger

	stop      chan struct{}
	stopOnce  sync.Once
	sweepDone chan struct{}
}

// NewService creates a synchronization service.
func NewService(cfg Config) *Service {
	if cfg.Codec == nil {
		cfg.Codec = ot.JSONPatchCodec{}
	}

	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewHub()
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Service{
		store:    cfg.Store,
		codec:    cfg.Codec,
		notifier: cfg.Notifier,
		manager: NewManager(ManagerConfig{
			Store:    cfg.Store,
			Codec:    cfg.Codec,
			Notifier: cfg.Notifier,
			Logger:   cfg.Logger,
		}),
		loader:    storage.NewDocumentLoader(cfg.Store, cfg.Codec),
		logger:    cfg.Logger,
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if cfg.SessionIdleTimeout > 0 {
		go s.sweep(cfg.SessionIdleTimeout)
	} else {
		close(s.sweepDone)
	}

	return s
}

// sweep evicts idle sessions until Close.
func (s *Service) sweep(idle time.Duration) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if n := s.manager.EvictIdle(now.Add(-idle)); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Codec returns the codec documents are folded with.
func (s *Service) Codec() ot.Codec {
	return s.codec
}

// CreateEmptyDocument creates a document holding the codec's empty snapshot.
func (s *Service) CreateEmptyDocument(ctx context.Context) (string, error) {
	docID := uuid.NewString()

	if _, err := s.store.CreateDocument(ctx, docID, s.codec.Empty()); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	s.logger.Info("document created", zap.String("doc_id", docID))

	return docID, nil
}

// GetDocumentAndVersion returns the snapshot and its version, read together.
func (s *Service) GetDocumentAndVersion(ctx context.Context, docID string) (DocumentState, error) {
	doc, err := s.store.LoadDocument(ctx, docID)
	if err != nil {
		return DocumentState{}, err
	}

	return DocumentState{DocID: doc.ID, Doc: doc.Snapshot, Version: doc.Version}, nil
}

// OperationsSince returns every committed operation after version.
func (s *Service) OperationsSince(ctx context.Context, docID string, version int) ([]ot.SequencedOperation, error) {
	return s.store.ListSince(ctx, docID, version)
}

// SubmitOperations appends ops if clientVersion is the current version and
// returns Rejected otherwise.
func (s *Service) SubmitOperations(ctx context.Context, docID, clientID string, clientVersion int, ops []string) (Outcome, error) {
	for range 2 {
		outcome, err := s.manager.GetOrCreateSession(docID).Submit(ctx, clientID, clientVersion, ops)
		if errors.Is(err, ErrSessionClosed) {
			// The session was evicted while we waited on its lock.
			continue
		}

		if errors.Is(err, storage.ErrDocumentNotFound) {
			// Do not keep sessions for unknown ids around.
			_ = s.manager.CloseSession(docID)
		}

		if err == nil {
			s.logger.Debug("submission handled",
				zap.String("doc_id", docID),
				zap.String("client_id", clientID),
				zap.Int("ops", len(ops)),
				zap.Stringer("outcome", outcome))
		}

		return outcome, err
	}

	return 0, ErrSessionClosed
}

// Watch subscribes to version updates of docID.
func (s *Service) Watch(ctx context.Context, docID string) (*notify.Subscription, error) {
	if _, err := s.store.Count(ctx, docID); err != nil {
		return nil, err
	}

	return s.notifier.Subscribe(ctx, docID)
}

// Verify replays the log of docID and returns storage.ErrDiverged if the
// result differs from the persisted snapshot.
func (s *Service) Verify(ctx context.Context, docID string) (storage.LoadResult, error) {
	result, err := s.loader.Verify(ctx, docID)
	if errors.Is(err, storage.ErrDiverged) {
		s.logger.Error("document diverged from its log", zap.String("doc_id", docID), zap.Error(err))
	}

	return result, err
}

// Sessions returns the number of documents with an active session.
func (s *Service) Sessions() int {
	return s.manager.SessionCount()
}

// Close stops the idle sweeper and releases every session.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.sweepDone

	return s.manager.CloseAll()
}
