package reconcile

import (
	"fmt"
	"slices"
	"sync"

	"github.com/serroba/online-notes/internal/ot"
)

// Editor is the local editable copy of a document. Loop calls it from its own
// goroutine only.
type Editor interface {
	// Reset replaces the content with a server snapshot.
	Reset(doc string) error

	// Apply applies one local edit. A failed edit is not queued for sending.
	Apply(op string) error

	// Merge folds remote operations in after every local edit the server has
	// already committed and returns pending rewritten to apply after them.
	// pending is the suffix of local edits not yet committed.
	Merge(remote, pending []string) ([]string, error)
}

// SnapshotEditor is an Editor that keeps the content as a codec snapshot.
// Besides the content it keeps the last snapshot known to match the server
// and the local edits made since, so a merge can rebuild the content in the
// order the server commits it.
type SnapshotEditor struct {
	mu      sync.RWMutex
	codec   ot.Codec
	base    string
	local   []string
	content string
}

// NewSnapshotEditor creates an editor holding the codec's empty snapshot.
func NewSnapshotEditor(codec ot.Codec) *SnapshotEditor {
	empty := codec.Empty()

	return &SnapshotEditor{codec: codec, base: empty, content: empty}
}

// Reset implements Editor.
func (e *SnapshotEditor) Reset(doc string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = doc
	e.local = nil
	e.content = doc

	return nil
}

// Apply implements Editor.
func (e *SnapshotEditor) Apply(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := ot.ApplyOperation(e.codec, e.content, op)
	if err != nil {
		return err
	}

	e.content = next
	e.local = append(e.local, op)

	return nil
}

// Merge implements Editor. The new content is the server's fold of the base,
// the committed local edits and remote, with the rebased pending edits on
// top. Operations that no longer apply are skipped, as the server does.
func (e *SnapshotEditor) Merge(remote, pending []string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	committed := len(e.local) - len(pending)
	if committed < 0 {
		return nil, fmt.Errorf("%d pending edits but only %d made locally", len(pending), len(e.local))
	}

	rebased := make([]string, len(pending))
	copy(rebased, pending)

	for _, r := range remote {
		for i, p := range rebased {
			pPrime, rPrime, err := e.codec.Transform(p, r)
			if err != nil {
				return nil, fmt.Errorf("transform pending %d: %w", i, err)
			}

			rebased[i], r = pPrime, rPrime
		}
	}

	confirmed := make([]string, 0, committed+len(remote))
	confirmed = append(confirmed, e.local[:committed]...)
	confirmed = append(confirmed, remote...)

	e.base = ot.ApplyBatch(e.codec, e.base, confirmed).Snapshot
	e.local = slices.Clone(rebased)
	e.content = ot.ApplyBatch(e.codec, e.base, rebased).Snapshot

	return rebased, nil
}

// Content returns the current local content.
func (e *SnapshotEditor) Content() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.content
}

var _ Editor = (*SnapshotEditor)(nil)
