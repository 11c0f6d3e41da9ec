package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// AppendAudit mirrors an audit entry to the audit stream
func (s *Store) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: KeyAuditStream,
		MaxLen: DefaultAuditMaxLen,
		Approx: true,
		Values: map[string]any{
			"level":    e.Level,
			"category": e.Category,
			"entry":    string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns up to n most recent audit entries, oldest first
func (s *Store) RecentAudit(ctx context.Context, n int64) ([]domain.AuditEntry, error) {
	msgs, err := s.client.XRevRangeN(ctx, KeyAuditStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["entry"].(string)
		if !ok {
			continue
		}
		var e domain.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
