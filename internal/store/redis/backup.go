package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// SaveBackup stores a backup record
func (s *Store) SaveBackup(ctx context.Context, rec domain.BackupRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal backup record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, BackupKey(rec.ID), data, 0)
	pipe.SAdd(ctx, KeyAllBackups, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

// DeleteBackup removes a backup record
func (s *Store) DeleteBackup(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, BackupKey(id))
	pipe.SRem(ctx, KeyAllBackups, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

// ListBackups retrieves all backup records
func (s *Store) ListBackups(ctx context.Context) ([]domain.BackupRecord, error) {
	ids, err := s.client.SMembers(ctx, KeyAllBackups).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get backup IDs: %w", err)
	}

	records := make([]domain.BackupRecord, 0, len(ids))
	for _, id := range ids {
		var rec domain.BackupRecord
		if err := s.getJSON(ctx, BackupKey(id), &rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
