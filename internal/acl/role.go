package acl

import "fmt"

// Role represents a user's access level for a note.
type Role int

const (
	// Viewer can read the note and follow its changes.
	Viewer Role = iota
	// Editor can also submit operations.
	Editor
	// Owner can also share the note with other users.
	Owner
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Owner:
		return "owner"
	default:
		return "unknown"
	}
}

// ParseRole returns the role named s.
func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return Viewer, nil
	case "editor":
		return Editor, nil
	case "owner":
		return Owner, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if r < Viewer || r > Owner {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}

	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = role

	return nil
}

// Allows reports whether the role permits action.
func (r Role) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return r >= Viewer
	case ActionWrite:
		return r >= Editor
	case ActionShare:
		return r >= Owner
	default:
		return false
	}
}

// Permission represents a user's access to a specific note.
type Permission struct {
	DocID  string `json:"docId"`
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}
