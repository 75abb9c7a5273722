package ot

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// SequencedOperation is an operation committed to a document's log.
// Position is the version the document reaches once the operation is applied.
type SequencedOperation struct {
	Position    int       `json:"position"`
	Payload     string    `json:"operation"`
	ClientID    string    `json:"clientId"`
	CommittedAt time.Time `json:"committedAt,omitzero"`
}

// OpType represents the type of a text edit.
type OpType int

const (
	Insert OpType = iota
	Delete
)

// String returns the wire name of the edit type.
func (t OpType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalText encodes the edit type by name.
func (t OpType) MarshalText() ([]byte, error) {
	switch t {
	case Insert, Delete:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("unknown operation type %d", int(t))
	}
}

// UnmarshalText decodes an edit type name.
func (t *OpType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "insert":
		*t = Insert
	case "delete":
		*t = Delete
	default:
		return fmt.Errorf("unknown operation type %q", text)
	}

	return nil
}

// Operation is a single text edit understood by TextCodec.
type Operation struct {
	Type     OpType `json:"type"`
	Position int    `json:"position"`       // Rune offset in the document
	Char     string `json:"char,omitempty"` // Text to insert (empty for delete)
	UserID   string `json:"userId"`         // Tie-breaker for concurrent inserts at one offset
}

// NewInsert creates an insert operation.
func NewInsert(char string, position int, userID string) Operation {
	return Operation{
		Type:     Insert,
		Position: position,
		Char:     char,
		UserID:   userID,
	}
}

// NewDelete creates a delete operation.
func NewDelete(position int, userID string) Operation {
	return Operation{
		Type:     Delete,
		Position: position,
		UserID:   userID,
	}
}

// IsInsert returns true if this is an insert operation.
func (o Operation) IsInsert() bool {
	return o.Type == Insert
}

// IsDelete returns true if this is a delete operation.
func (o Operation) IsDelete() bool {
	return o.Type == Delete
}

// IsNoop returns true if the operation was cancelled by a transform (position -1).
func (o Operation) IsNoop() bool {
	return o.Position < 0
}

// width is the number of runes the operation inserts.
func (o Operation) width() int {
	return utf8.RuneCountInString(o.Char)
}

// Encode serializes the operation into its opaque payload form.
func (o Operation) Encode() string {
	data, err := json.Marshal(o)
	if err != nil {
		// Only an invalid OpType can fail, which the constructors never produce.
		panic(fmt.Sprintf("encode text operation: %v", err))
	}

	return string(data)
}

// DecodeOperation parses an opaque payload produced by Operation.Encode.
func DecodeOperation(payload string) (Operation, error) {
	var op Operation
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		return Operation{}, fmt.Errorf("decode text operation: %w", err)
	}

	return op, nil
}
