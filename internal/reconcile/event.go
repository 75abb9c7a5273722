package reconcile

import "github.com/serroba/online-notes/internal/ot"

// Event is something that happened to a session. The set is closed.
type Event interface {
	isEvent()
}

// Started begins the session.
type Started struct{}

// Loaded carries the initial document and its version.
type Loaded struct {
	Doc     string
	Version int
}

// LoadFailed reports that the initial load failed. It is retried on Tick.
type LoadFailed struct{ Err error }

// LocalEdit carries operations the editor has already applied locally.
type LocalEdit struct{ Operations []string }

// SubmitAccepted reports that the outstanding submission was committed.
type SubmitAccepted struct{}

// SubmitRejected reports that the outstanding submission hit a stale version.
type SubmitRejected struct{}

// SubmitFailed reports a transport failure of the outstanding submission.
type SubmitFailed struct{ Err error }

// Tick asks the session to catch up, from a timer or a push notification.
type Tick struct{}

// Received carries the result of a catch-up fetch.
type Received struct{ Operations []ot.SequencedOperation }

// FetchFailed reports a transport failure of the catch-up fetch.
type FetchFailed struct{ Err error }

// Rebased carries the pending operations rewritten by a Merge.
type Rebased struct{ Pending []string }

// MergeFailed reports that the editor could not merge remote operations.
type MergeFailed struct{ Err error }

func (Started) isEvent()        {}
func (Loaded) isEvent()         {}
func (LoadFailed) isEvent()     {}
func (LocalEdit) isEvent()      {}
func (SubmitAccepted) isEvent() {}
func (SubmitRejected) isEvent() {}
func (SubmitFailed) isEvent()   {}
func (Tick) isEvent()           {}
func (Received) isEvent()       {}
func (FetchFailed) isEvent()    {}
func (Rebased) isEvent()        {}
func (MergeFailed) isEvent()    {}

// Effect is work the driver performs on behalf of Step. The set is closed.
type Effect interface {
	isEffect()
}

// LoadDocument fetches the document and its version.
type LoadDocument struct{}

// ResetEditor replaces the editor content.
type ResetEditor struct{ Doc string }

// Submit sends a batch at Version.
type Submit struct {
	Version    int
	Operations []string
}

// FetchSince asks for every operation after Version.
type FetchSince struct{ Version int }

// Merge folds Remote into the editor and rebases Pending over it. The driver
// answers with Rebased or MergeFailed before handling any other event.
type Merge struct {
	Remote  []string
	Pending []string
}

func (LoadDocument) isEffect() {}
func (ResetEditor) isEffect()  {}
func (Submit) isEffect()       {}
func (FetchSince) isEffect()   {}
func (Merge) isEffect()        {}
