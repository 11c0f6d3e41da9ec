package domain

import (
	"testing"
	"time"
)

func TestOperationTransition(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    OperationStatus
		to      OperationStatus
		wantErr bool
	}{
		{name: "pending to running", from: StatusPending, to: StatusRunning},
		{name: "pending to failed", from: StatusPending, to: StatusFailed},
		{name: "running to succeeded", from: StatusRunning, to: StatusSucceeded},
		{name: "running to failed", from: StatusRunning, to: StatusFailed},
		{name: "pending to succeeded", from: StatusPending, to: StatusSucceeded, wantErr: true},
		{name: "running to pending", from: StatusRunning, to: StatusPending, wantErr: true},
		{name: "succeeded is final", from: StatusSucceeded, to: StatusFailed, wantErr: true},
		{name: "failed is final", from: StatusFailed, to: StatusRunning, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{ID: "op", Status: tt.from}
			err := op.Transition(tt.to, "msg", now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if op.Status != tt.from {
					t.Errorf("status changed on rejected transition: %s", op.Status)
				}
				return
			}
			if op.Status != tt.to {
				t.Errorf("status = %s, want %s", op.Status, tt.to)
			}
			if tt.to.Terminal() && !op.FinishedAt.Equal(now) {
				t.Errorf("FinishedAt = %v, want %v", op.FinishedAt, now)
			}
		})
	}
}

func TestOperationCloneIsIndependent(t *testing.T) {
	op := &Operation{ID: "op", Status: StatusPending}
	c := op.Clone()
	c.Status = StatusFailed
	if op.Status != StatusPending {
		t.Errorf("original mutated through clone: %s", op.Status)
	}
}
