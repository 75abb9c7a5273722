package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/serroba/online-notes/internal/ot"
)

// ErrInvalidMessage is returned by Unmarshal for data that is not a known
// message.
var ErrInvalidMessage = errors.New("invalid message")

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeSubmit MessageType = "submit" // Client submits a batch at a version
	MessageTypeFetch  MessageType = "fetch"  // Client asks for operations after a version

	// Server to Client messages.
	MessageTypeAccepted   MessageType = "accepted"   // Batch committed
	MessageTypeRejected   MessageType = "rejected"   // Batch based on a stale version
	MessageTypeOperations MessageType = "operations" // Answer to fetch
	MessageTypeVersion    MessageType = "version"    // Document advanced, pushed unprompted
	MessageTypeError      MessageType = "error"      // Server reports an error
)

// Message is one of the payload types below. The set is closed.
type Message interface {
	Type() MessageType
}

// Submit carries a batch of operations based on Version.
type Submit struct {
	ClientID   string   `json:"clientId"`
	Version    int      `json:"version"`
	Operations []string `json:"operations"`
}

// Fetch asks for every operation after Since.
type Fetch struct {
	Since int `json:"since"`
}

// Accepted confirms a Submit. Version is the document version it produced.
type Accepted struct {
	Version int `json:"version"`
}

// Rejected answers a Submit whose Version was not current.
type Rejected struct {
	Version int `json:"version"`
}

// Operations answers a Fetch.
type Operations struct {
	Operations []ot.SequencedOperation `json:"operations"`
}

// Version announces that a document reached a new version.
type Version struct {
	DocID   string `json:"docId"`
	Version int    `json:"version"`
}

// Error reports an error to the client.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeNotFound       = "not_found"
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)

func (Submit) Type() MessageType     { return MessageTypeSubmit }
func (Fetch) Type() MessageType      { return MessageTypeFetch }
func (Accepted) Type() MessageType   { return MessageTypeAccepted }
func (Rejected) Type() MessageType   { return MessageTypeRejected }
func (Operations) Type() MessageType { return MessageTypeOperations }
func (Version) Type() MessageType    { return MessageTypeVersion }
func (Error) Type() MessageType      { return MessageTypeError }

// envelope is the wire form of every message.
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal encodes msg as {"type": ..., "payload": ...}.
func Marshal(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type(), err)
	}

	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

// Unmarshal decodes an envelope into its concrete message type.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var msg Message

	switch env.Type {
	case MessageTypeSubmit:
		msg = &Submit{}
	case MessageTypeFetch:
		msg = &Fetch{}
	case MessageTypeAccepted:
		msg = &Accepted{}
	case MessageTypeRejected:
		msg = &Rejected{}
	case MessageTypeOperations:
		msg = &Operations{}
	case MessageTypeVersion:
		msg = &Version{}
	case MessageTypeError:
		msg = &Error{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %w", ErrInvalidMessage, env.Type, err)
		}
	}

	return deref(msg), nil
}

// deref returns the value form so callers can switch on plain types.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *Submit:
		return *m
	case *Fetch:
		return *m
	case *Accepted:
		return *m
	case *Rejected:
		return *m
	case *Operations:
		return *m
	case *Version:
		return *m
	case *Error:
		return *m
	default:
		return msg
	}
}
