package ot

import (
	"errors"
	"fmt"
)

// ErrInapplicableOperation is returned when an operation cannot apply cleanly
// to a snapshot, e.g. it targets content that no longer exists.
var ErrInapplicableOperation = errors.New("inapplicable operation")

// ErrUnknownCodec is returned by CodecByName for unregistered codec names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec interprets opaque operation payloads and snapshots.
// Implementations must be deterministic: the same snapshot and operation
// always produce the same result.
type Codec interface {
	// Name identifies the codec in configuration.
	Name() string

	// Empty returns the snapshot of a newly created document.
	Empty() string

	// Apply applies one operation to a snapshot.
	Apply(snapshot, op string) (string, error)

	// Transform rebases two concurrent operations over each other and returns
	// (local', remote'): local' applies after remote, remote' applies after local.
	Transform(local, remote string) (string, string, error)
}

// ApplyOperation applies one operation to a snapshot. On failure the original
// snapshot is returned together with an error wrapping ErrInapplicableOperation.
func ApplyOperation(codec Codec, snapshot, op string) (string, error) {
	next, err := codec.Apply(snapshot, op)
	if err != nil {
		return snapshot, fmt.Errorf("%w: %w", ErrInapplicableOperation, err)
	}

	return next, nil
}

// BatchResult is the outcome of folding a batch into a snapshot.
type BatchResult struct {
	Snapshot string
	Skipped  []int // Indexes of operations that could not apply
}

// ApplyBatch folds ops into snapshot in order. An inapplicable operation is
// skipped, leaving the snapshot unchanged for that step, and folding continues
// with the next operation.
func ApplyBatch(codec Codec, snapshot string, ops []string) BatchResult {
	result := BatchResult{Snapshot: snapshot}

	for i, op := range ops {
		next, err := ApplyOperation(codec, result.Snapshot, op)
		if err != nil {
			result.Skipped = append(result.Skipped, i)

			continue
		}

		result.Snapshot = next
	}

	return result
}

// Replay folds a committed log from the codec's empty snapshot.
func Replay(codec Codec, log []SequencedOperation) string {
	ops := make([]string, len(log))
	for i, op := range log {
		ops[i] = op.Payload
	}

	return ApplyBatch(codec, codec.Empty(), ops).Snapshot
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case JSONPatchCodec{}.Name():
		return JSONPatchCodec{}, nil
	case TextCodec{}.Name():
		return TextCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
