package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// SaveUnitState stores the orchestrator-owned state of a unit
func (s *Store) SaveUnitState(ctx context.Context, st domain.UnitState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal unit state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, UnitKey(st.ID), data, 0)
	pipe.SAdd(ctx, KeyAllUnits, st.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save unit state: %w", err)
	}
	return nil
}

// LoadUnitStates retrieves every persisted unit state
func (s *Store) LoadUnitStates(ctx context.Context) (map[string]domain.UnitState, error) {
	ids, err := s.client.SMembers(ctx, KeyAllUnits).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get unit IDs: %w", err)
	}

	states := make(map[string]domain.UnitState, len(ids))
	for _, id := range ids {
		var st domain.UnitState
		if err := s.getJSON(ctx, UnitKey(id), &st); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		states[id] = st
	}
	return states, nil
}

// SaveSlots stores the slot pair
func (s *Store) SaveSlots(ctx context.Context, p domain.SlotPair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}
	if err := s.client.Set(ctx, KeySlots, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save slots: %w", err)
	}
	return nil
}

// LoadSlots retrieves the slot pair
func (s *Store) LoadSlots(ctx context.Context) (domain.SlotPair, error) {
	var p domain.SlotPair
	if err := s.getJSON(ctx, KeySlots, &p); err != nil {
		return domain.SlotPair{}, err
	}
	return p, nil
}
