// Package reconcile keeps a client's local copy of a document in step with
// the server. Step is a pure transition function; Loop drives it.
package reconcile

import "slices"

// Phase is the lifecycle stage of a reconciliation session.
type Phase int

const (
	Uninitialized Phase = iota
	AwaitingLocalSetup
	Synchronized
)

// String returns a readable phase name.
func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case AwaitingLocalSetup:
		return "awaiting-local-setup"
	case Synchronized:
		return "synchronized"
	default:
		return "unknown"
	}
}

// State is everything a session knows about its document.
type State struct {
	Phase    Phase
	DocID    string
	ClientID string

	// Version is the number of server operations reflected locally.
	Version int

	// Pending holds local operations not yet known to be committed, oldest
	// first. The first InFlight of them are part of the outstanding submission.
	Pending  []string
	InFlight int

	Submitting bool // A submission is outstanding
	Fetching   bool // A catch-up fetch is outstanding
	Loading    bool // The initial document load is outstanding
	Rebasing   bool // A Merge effect has not reported back yet

	// Stalled is set when the last submission was rejected or failed; pending
	// operations are resubmitted after the next catch-up.
	Stalled bool
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.Pending = slices.Clone(s.Pending)

	return s
}

// New returns the initial state of a session.
func New(docID, clientID string) State {
	return State{Phase: Uninitialized, DocID: docID, ClientID: clientID}
}
