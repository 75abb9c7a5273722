// Package acl decides which users may read, edit or share a note.
package acl

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnknownRole        = errors.New("unknown role")
	ErrLastOwner          = errors.New("note must keep an owner")
)

// Store persists who holds which role on a note. Implementations do not
// enforce sharing rules; Checker does.
type Store interface {
	// Grant gives a user a role on a note, replacing any previous role.
	Grant(ctx context.Context, docID, userID string, role Role) error

	// Revoke removes a user's permission on a note.
	// Returns ErrPermissionNotFound if no permission exists.
	Revoke(ctx context.Context, docID, userID string) error

	// GetRole returns the user's role for a note.
	// Returns ErrPermissionNotFound if no permission exists.
	GetRole(ctx context.Context, docID, userID string) (Role, error)

	// ListPermissions returns all permissions for a note ordered by user id.
	ListPermissions(ctx context.Context, docID string) ([]Permission, error)
}
