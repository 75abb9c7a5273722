package acl

import (
	"context"
	"errors"
	"fmt"
)

// Action represents something a user wants to do with a note.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionShare
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionShare:
		return "share"
	default:
		return "unknown"
	}
}

// Checker validates user permissions for note operations.
type Checker struct {
	store Store
}

// NewChecker creates a new permission checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// CanPerform reports whether a user can perform an action on a note. Users
// without any permission can do nothing.
func (c *Checker) CanPerform(ctx context.Context, docID, userID string, action Action) (bool, error) {
	role, err := c.store.GetRole(ctx, docID, userID)
	if err != nil {
		if errors.Is(err, ErrPermissionNotFound) {
			return false, nil
		}

		return false, err
	}

	return role.Allows(action), nil
}

// Require returns an error wrapping ErrForbidden when the action is denied.
func (c *Checker) Require(ctx context.Context, docID, userID string, action Action) error {
	allowed, err := c.CanPerform(ctx, docID, userID, action)
	if err != nil {
		return err
	}

	if !allowed {
		return fmt.Errorf("%w: %s on %s", ErrForbidden, action, docID)
	}

	return nil
}

// Share gives target the role on docID on behalf of actor, who needs share
// rights. Demoting the only owner fails with ErrLastOwner.
func (c *Checker) Share(ctx context.Context, docID, actor, target string, role Role) error {
	if err := c.Require(ctx, docID, actor, ActionShare); err != nil {
		return err
	}

	if role != Owner {
		if err := c.keepsOwner(ctx, docID, target); err != nil {
			return err
		}
	}

	return c.store.Grant(ctx, docID, target, role)
}

// Unshare removes target's permission on docID on behalf of actor.
func (c *Checker) Unshare(ctx context.Context, docID, actor, target string) error {
	if err := c.Require(ctx, docID, actor, ActionShare); err != nil {
		return err
	}

	if err := c.keepsOwner(ctx, docID, target); err != nil {
		return err
	}

	return c.store.Revoke(ctx, docID, target)
}

// keepsOwner fails when target is the only owner of docID.
func (c *Checker) keepsOwner(ctx context.Context, docID, target string) error {
	perms, err := c.store.ListPermissions(ctx, docID)
	if err != nil {
		return err
	}

	owners, targetOwns := 0, false

	for _, p := range perms {
		if p.Role == Owner {
			owners++
			targetOwns = targetOwns || p.UserID == target
		}
	}

	if targetOwns && owners == 1 {
		return fmt.Errorf("%w: %s", ErrLastOwner, docID)
	}

	return nil
}

// Store returns the underlying permission store.
func (c *Checker) Store() Store {
	return c.store
}
