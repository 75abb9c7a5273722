package collab

import "fmt"

// Outcome is the result of a submission. Rejection is an expected
// concurrency outcome, not an error.
type Outcome int

const (
	// Accepted means the batch was appended and folded.
	Accepted Outcome = iota + 1
	// Rejected means the client's version was stale; nothing was written.
	Rejected
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	switch o {
	case Accepted, Rejected:
		return []byte(o.String()), nil
	default:
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accepted":
		*o = Accepted
	case "rejected":
		*o = Rejected
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}

	return nil
}
