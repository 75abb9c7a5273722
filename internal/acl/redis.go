package acl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces the permission hashes, one per note.
const KeyPrefix = "notes:acl:"

// RedisStore keeps permissions in a Redis hash per note so every replica
// sees the same grants.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a permission store on rdb.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func key(docID string) string {
	return KeyPrefix + docID
}

// Grant implements Store.
func (s *RedisStore) Grant(ctx context.Context, docID, userID string, role Role) error {
	name, err := role.MarshalText()
	if err != nil {
		return err
	}

	if err := s.rdb.HSet(ctx, key(docID), userID, string(name)).Err(); err != nil {
		return fmt.Errorf("grant %s on %s: %w", userID, docID, err)
	}

	return nil
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, docID, userID string) error {
	removed, err := s.rdb.HDel(ctx, key(docID), userID).Result()
	if err != nil {
		return fmt.Errorf("revoke %s on %s: %w", userID, docID, err)
	}

	if removed == 0 {
		return ErrPermissionNotFound
	}

	return nil
}

// GetRole implements Store.
func (s *RedisStore) GetRole(ctx context.Context, docID, userID string) (Role, error) {
	name, err := s.rdb.HGet(ctx, key(docID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrPermissionNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("get role of %s on %s: %w", userID, docID, err)
	}

	return ParseRole(name)
}

// ListPermissions implements Store.
func (s *RedisStore) ListPermissions(ctx context.Context, docID string) ([]Permission, error) {
	all, err := s.rdb.HGetAll(ctx, key(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list permissions on %s: %w", docID, err)
	}

	result := make([]Permission, 0, len(all))

	for userID, name := range all {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}

		result = append(result, Permission{DocID: docID, UserID: userID, Role: role})
	}

	slices.SortFunc(result, func(a, b Permission) int {
		return strings.Compare(a.UserID, b.UserID)
	})

	return result, nil
}

var _ Store = (*RedisStore)(nil)
