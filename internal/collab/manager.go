package collab

import (
	"errors"
	"sync"
	"time"
)

// Manager keeps one Session per document that saw a submission in this
// process.
type Manager struct {
	template SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerConfig holds the dependencies shared by every session. DocID is
// ignored.
type ManagerConfig = SessionConfig

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		template: cfg,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreateSession returns the session of docID, creating it on first use.
func (m *Manager) GetOrCreateSession(docID string) *Session {
	m.mu.RLock()
	session, ok := m.sessions[docID]
	m.mu.RUnlock()

	if ok {
		return session
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok = m.sessions[docID]; ok {
		return session
	}

	cfg := m.template
	cfg.DocID = docID
	session = NewSession(cfg)
	m.sessions[docID] = session

	return session
}

// GetSession returns the session of docID or nil.
func (m *Manager) GetSession(docID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[docID]
}

// CloseSession closes and forgets the session of docID, if any.
func (m *Manager) CloseSession(docID string) error {
	m.mu.Lock()
	session, ok := m.sessions[docID]
	delete(m.sessions, docID)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	return session.Close()
}

// EvictIdle closes sessions whose last submission is older than cutoff and
// returns how many were closed.
func (m *Manager) EvictIdle(cutoff time.Time) int {
	m.mu.Lock()

	var idle []*Session

	for docID, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, docID)
		}
	}

	m.mu.Unlock()

	for _, s := range idle {
		_ = s.Close()
	}

	return len(idle)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error

	for _, s := range sessions {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
