package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// SaveSession stores a session with a TTL matching its expiry
func (s *Store) SaveSession(ctx context.Context, sess domain.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return s.DeleteSession(ctx, sess.Token)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, SessionKey(sess.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, SessionKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LoadSessions scans all stored sessions
func (s *Store) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session

	iter := s.client.Scan(ctx, 0, KeyPrefixSession+"*", 0).Iterator()
	for iter.Next(ctx) {
		var sess domain.Session
		if err := s.getJSON(ctx, iter.Val(), &sess); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // expired between SCAN and GET
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}
