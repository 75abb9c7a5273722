package ot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// JSONPatchCodec treats snapshots as JSON objects and operations as
// RFC 6902 JSON Patch documents.
type JSONPatchCodec struct{}

// Name implements Codec.
func (JSONPatchCodec) Name() string { return "json" }

// Empty implements Codec.
func (JSONPatchCodec) Empty() string { return "{}" }

// Apply implements Codec.
func (JSONPatchCodec) Apply(snapshot, op string) (string, error) {
	patch, err := jsonpatch.DecodePatch([]byte(op))
	if err != nil {
		return "", fmt.Errorf("decode patch: %w", err)
	}

	doc, err := patch.Apply([]byte(snapshot))
	if err != nil {
		return "", err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return "", fmt.Errorf("compact document: %w", err)
	}

	return compact.String(), nil
}

// Transform implements Codec. Patches address content by path, so concurrent
// patches are applied as-is and conflicts surface as inapplicable operations.
func (JSONPatchCodec) Transform(local, remote string) (string, string, error) {
	return local, remote, nil
}

// TextCodec treats snapshots as plain text and operations as encoded
// character insert/delete Operations.
type TextCodec struct{}

// Name implements Codec.
func (TextCodec) Name() string { return "text" }

// Empty implements Codec.
func (TextCodec) Empty() string { return "" }

// Apply implements Codec.
func (TextCodec) Apply(snapshot, payload string) (string, error) {
	op, err := DecodeOperation(payload)
	if err != nil {
		return "", err
	}

	doc := NewDocument(snapshot)
	if err := doc.Apply(op); err != nil {
		return "", err
	}

	return doc.Content(), nil
}

// Transform implements Codec using the character-wise Transform.
func (TextCodec) Transform(local, remote string) (string, string, error) {
	l, errL := DecodeOperation(local)
	r, errR := DecodeOperation(remote)

	if err := errors.Join(errL, errR); err != nil {
		return "", "", err
	}

	lPrime, rPrime := Transform(l, r)

	return lPrime.Encode(), rPrime.Encode(), nil
}
