package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

const (
	// DefaultOperationTTL is how long finished operations stay queryable
	DefaultOperationTTL = 30 * 24 * time.Hour
	// DefaultAuditMaxLen caps the audit stream length (approximate trim)
	DefaultAuditMaxLen = 10000
)

// Store persists control plane state in Redis. Records are JSON values
// under the prefixes in keys.go, with a sorted set index per collection.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// getJSON loads and decodes a JSON value, mapping redis.Nil to store.ErrNotFound.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
