package acl

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]map[string]Role // docID -> userID -> role
}

// NewMemoryStore creates a new in-memory permission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes: make(map[string]map[string]Role),
	}
}

// Grant implements Store.
func (m *MemoryStore) Grant(_ context.Context, docID, userID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users, ok := m.notes[docID]
	if !ok {
		users = make(map[string]Role)
		m.notes[docID] = users
	}

	users[userID] = role

	return nil
}

// Revoke implements Store.
func (m *MemoryStore) Revoke(_ context.Context, docID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.notes[docID]
	if _, exists := users[userID]; !exists {
		return ErrPermissionNotFound
	}

	delete(users, userID)

	if len(users) == 0 {
		delete(m.notes, docID)
	}

	return nil
}

// GetRole implements Store.
func (m *MemoryStore) GetRole(_ context.Context, docID, userID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, exists := m.notes[docID][userID]
	if !exists {
		return 0, ErrPermissionNotFound
	}

	return role, nil
}

// ListPermissions implements Store.
func (m *MemoryStore) ListPermissions(_ context.Context, docID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Permission, 0, len(m.notes[docID]))

	for userID, role := range m.notes[docID] {
		result = append(result, Permission{DocID: docID, UserID: userID, Role: role})
	}

	slices.SortFunc(result, func(a, b Permission) int {
		return strings.Compare(a.UserID, b.UserID)
	})

	return result, nil
}

var _ Store = (*MemoryStore)(nil)
