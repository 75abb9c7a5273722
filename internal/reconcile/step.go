package reconcile

import "slices"

// Step applies ev to s and returns the next state with the effects the
// driver must perform. It never mutates s.
func Step(s State, ev Event) (State, []Effect) {
	s = s.Clone()

	switch ev := ev.(type) {
	case Started:
		return onStarted(s)
	case Loaded:
		return onLoaded(s, ev)
	case LoadFailed:
		s.Loading = false

		return s, nil
	case LocalEdit:
		return onLocalEdit(s, ev)
	case SubmitAccepted:
		return onAccepted(s)
	case SubmitRejected:
		return onRejected(s)
	case SubmitFailed:
		s.Submitting = false
		s.InFlight = 0
		s.Stalled = true

		return s, nil
	case Tick:
		return onTick(s)
	case Received:
		return onReceived(s, ev)
	case FetchFailed:
		s.Fetching = false

		return s, nil
	case Rebased:
		return onRebased(s, ev)
	case MergeFailed:
		return onMergeFailed(s)
	default:
		return s, nil
	}
}

func onStarted(s State) (State, []Effect) {
	if s.Phase != Uninitialized {
		return s, nil
	}

	s.Phase = AwaitingLocalSetup
	s.Loading = true

	return s, []Effect{LoadDocument{}}
}

func onLoaded(s State, ev Loaded) (State, []Effect) {
	s.Loading = false

	if s.Phase != AwaitingLocalSetup {
		return s, nil
	}

	s.Phase = Synchronized
	s.Version = ev.Version

	return s, []Effect{ResetEditor{Doc: ev.Doc}}
}

func onLocalEdit(s State, ev LocalEdit) (State, []Effect) {
	if s.Phase != Synchronized || len(ev.Operations) == 0 {
		return s, nil
	}

	s.Pending = append(s.Pending, ev.Operations...)

	return flush(s)
}

func onAccepted(s State) (State, []Effect) {
	if !s.Submitting {
		return s, nil
	}

	s.Submitting = false

	if s.Phase == Synchronized {
		s.Version += s.InFlight
		s.Pending = s.Pending[s.InFlight:]
	}

	s.InFlight = 0
	s.Stalled = false

	return flush(s)
}

func onRejected(s State) (State, []Effect) {
	if !s.Submitting {
		return s, nil
	}

	s.Submitting = false
	s.InFlight = 0
	s.Stalled = true

	return fetch(s)
}

func onTick(s State) (State, []Effect) {
	switch s.Phase {
	case AwaitingLocalSetup:
		if s.Loading {
			return s, nil
		}

		s.Loading = true

		return s, []Effect{LoadDocument{}}
	case Synchronized:
		return fetch(s)
	default:
		return s, nil
	}
}

func onReceived(s State, ev Received) (State, []Effect) {
	s.Fetching = false

	if s.Phase != Synchronized {
		return s, nil
	}

	var remote []string

	for _, op := range ev.Operations {
		if op.Position <= s.Version {
			continue
		}

		if op.Position != s.Version+1 {
			// Gap: the rest cannot be placed yet.
			break
		}

		if remote == nil && op.ClientID == s.ClientID && len(s.Pending) > 0 {
			// Our own operation came back: it confirms the head of pending.
			s.Pending = s.Pending[1:]
			if s.InFlight > 0 {
				s.InFlight--
			}

			s.Version++

			continue
		}

		remote = append(remote, op.Payload)
		s.Version++
	}

	if len(remote) > 0 {
		s.Rebasing = true

		return s, []Effect{Merge{Remote: remote, Pending: slices.Clone(s.Pending)}}
	}

	return flush(s)
}

func onRebased(s State, ev Rebased) (State, []Effect) {
	if !s.Rebasing {
		return s, nil
	}

	s.Rebasing = false

	// Edits that arrived while rebasing were made on the merged content.
	if extra := len(s.Pending) - len(ev.Pending); extra > 0 {
		s.Pending = append(slices.Clone(ev.Pending), s.Pending[len(s.Pending)-extra:]...)
	} else {
		s.Pending = slices.Clone(ev.Pending)
	}

	return flush(s)
}

func onMergeFailed(s State) (State, []Effect) {
	s.Rebasing = false
	s.Phase = AwaitingLocalSetup
	s.Pending = nil
	s.InFlight = 0
	s.Stalled = false
	s.Loading = true

	return s, []Effect{LoadDocument{}}
}

// flush submits every pending operation unless something blocks it.
func flush(s State) (State, []Effect) {
	switch {
	case s.Phase != Synchronized,
		s.Submitting,
		s.Rebasing,
		len(s.Pending) == 0,
		s.Stalled && s.Fetching:
		return s, nil
	}

	s.Submitting = true
	s.InFlight = len(s.Pending)
	s.Stalled = false

	return s, []Effect{Submit{Version: s.Version, Operations: slices.Clone(s.Pending)}}
}

func fetch(s State) (State, []Effect) {
	if s.Fetching {
		return s, nil
	}

	s.Fetching = true

	return s, []Effect{FetchSince{Version: s.Version}}
}
