package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// SaveOperation stores an operation and indexes it by creation time
func (s *Store) SaveOperation(ctx context.Context, op *domain.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	score := float64(op.CreatedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, OperationKey(op.ID), data, DefaultOperationTTL)
	pipe.ZAdd(ctx, KeyAllOperations, redis.Z{Score: score, Member: op.ID})
	if op.ServiceID != "" {
		pipe.ZAdd(ctx, ServiceOperationsKey(op.ServiceID), redis.Z{Score: score, Member: op.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID
func (s *Store) GetOperation(ctx context.Context, id string) (*domain.Operation, error) {
	var op domain.Operation
	if err := s.getJSON(ctx, OperationKey(id), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperations returns operations newest first, pruning index entries whose data expired
func (s *Store) ListOperations(ctx context.Context, serviceID string) ([]*domain.Operation, error) {
	index := KeyAllOperations
	if serviceID != "" {
		index = ServiceOperationsKey(serviceID)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list operation ids: %w", err)
	}

	ops := make([]*domain.Operation, 0, len(ids))
	for _, id := range ids {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = s.client.ZRem(ctx, index, id).Err()
				continue
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
