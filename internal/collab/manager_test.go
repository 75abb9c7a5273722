package collab_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(clock *fakeClock) *collab.Manager {
	cfg := collab.ManagerConfig{Store: storage.NewMemoryStore()}
	if clock != nil {
		cfg.Clock = clock.Now
	}

	return collab.NewManager(cfg)
}

func TestManager_GetOrCreateSession(t *testing.T) {
	t.Parallel()

	manager := newManager(nil)

	session := manager.GetOrCreateSession("doc1")
	require.NotNil(t, session)
	assert.Equal(t, "doc1", session.DocID())
	assert.Same(t, session, manager.GetOrCreateSession("doc1"))
	assert.Same(t, session, manager.GetSession("doc1"))
	assert.Nil(t, manager.GetSession("doc2"))
}

func TestManager_CloseSession(t *testing.T) {
	t.Parallel()

	manager := newManager(nil)
	session := manager.GetOrCreateSession("doc1")

	require.NoError(t, manager.CloseSession("doc1"))
	require.NoError(t, manager.CloseSession("doc1"), "closing twice is a no-op")

	_, err := session.Submit(t.Context(), "c1", 0, nil)
	require.ErrorIs(t, err, collab.ErrSessionClosed)

	assert.Nil(t, manager.GetSession("doc1"))
	assert.NotSame(t, session, manager.GetOrCreateSession("doc1"))
}

func TestManager_CloseAll(t *testing.T) {
	t.Parallel()

	manager := newManager(nil)

	for i := range 5 {
		manager.GetOrCreateSession(fmt.Sprintf("doc%d", i))
	}

	assert.Equal(t, 5, manager.SessionCount())

	require.NoError(t, manager.CloseAll())
	assert.Zero(t, manager.SessionCount())
}

func TestManager_EvictIdle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	manager := newManager(clock)

	manager.GetOrCreateSession("old")
	clock.Advance(5 * time.Minute)
	manager.GetOrCreateSession("new")
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, manager.EvictIdle(clock.Now().Add(-7*time.Minute)))
	assert.Nil(t, manager.GetSession("old"))
	assert.NotNil(t, manager.GetSession("new"))

	assert.Zero(t, manager.EvictIdle(clock.Now().Add(-7*time.Minute)))
}

func TestManager_SubmissionKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	manager := newManager(clock)
	session := manager.GetOrCreateSession("doc1")

	clock.Advance(time.Hour)

	// Unknown documents fail, but the attempt still counts as activity.
	_, _ = session.Submit(t.Context(), "c1", 0, nil)
	assert.True(t, clock.Now().Equal(session.LastActive()), "last active %v, want %v", session.LastActive(), clock.Now())

	assert.Zero(t, manager.EvictIdle(clock.Now().Add(-time.Minute)))
}

func TestManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	manager := newManager(nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sessions = make(map[*collab.Session]struct{})
	)

	for range 20 {
		wg.Go(func() {
			s := manager.GetOrCreateSession("doc1")

			mu.Lock()
			sessions[s] = struct{}{}
			mu.Unlock()
		})
	}

	wg.Wait()

	assert.Len(t, sessions, 1)
}
