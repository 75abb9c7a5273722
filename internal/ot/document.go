package ot

import (
	"errors"
	"fmt"
	"slices"
)

// Errors returned by Document.Apply.
var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrEmptyInsert     = errors.New("insert without text")
	ErrUnknownOpType   = errors.New("unknown operation type")
)

// Document is the rune buffer behind a text note. Offsets count runes, not
// bytes.
type Document struct {
	content []rune
}

// NewDocument creates a document holding initial.
func NewDocument(initial string) *Document {
	return &Document{content: []rune(initial)}
}

// Apply executes op. Operations cancelled by a transform are ignored; a
// failed operation leaves the document unchanged.
func (d *Document) Apply(op Operation) error {
	if op.IsNoop() {
		return nil
	}

	switch op.Type {
	case Insert:
		if op.Char == "" {
			return ErrEmptyInsert
		}

		if op.Position > len(d.content) {
			return fmt.Errorf("%w: insert at %d in %d runes", ErrInvalidPosition, op.Position, len(d.content))
		}

		d.content = slices.Insert(d.content, op.Position, []rune(op.Char)...)
	case Delete:
		if op.Position >= len(d.content) {
			return fmt.Errorf("%w: delete at %d in %d runes", ErrInvalidPosition, op.Position, len(d.content))
		}

		d.content = slices.Delete(d.content, op.Position, op.Position+1)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOpType, op.Type)
	}

	return nil
}

// Content returns the text.
func (d *Document) Content() string {
	return string(d.content)
}

// Len returns the length in runes.
func (d *Document) Len() int {
	return len(d.content)
}
