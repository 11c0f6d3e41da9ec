package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"auth reason matches", &AuthError{Reason: AuthExpired}, ErrSessionExpired, true},
		{"auth any matches", &AuthError{Reason: AuthRevoked}, ErrAuth, true},
		{"auth reason differs", &AuthError{Reason: AuthRevoked}, ErrSessionExpired, false},
		{"wrapped backup reason", fmt.Errorf("restore: %w", &BackupError{Reason: BackupCorrupt}), ErrBackupCorrupt, true},
		{"backup any", &BackupError{Reason: BackupNotFound}, ErrBackup, true},
		{"rollback", &RollbackError{ServiceID: "y"}, ErrNoBackupAvailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlotPairSwapped(t *testing.T) {
	p := SlotPair{
		Active:  Slot{ID: SlotA, Role: RoleActive, StackVersionRef: "v1"},
		Standby: Slot{ID: SlotB, Role: RoleStandby, StackVersionRef: "v2"},
	}
	next := p.Swapped(p.Active.LastSwitchedAt)
	if next.Active.ID != SlotB || next.Active.Role != RoleActive {
		t.Errorf("active = %+v, want B active", next.Active)
	}
	if next.Standby.ID != SlotA || next.Standby.Role != RoleStandby {
		t.Errorf("standby = %+v, want A standby", next.Standby)
	}
	if s := next.Slots(); s[0].ID != SlotA || s[1].ID != SlotB {
		t.Errorf("Slots() order = %s,%s", s[0].ID, s[1].ID)
	}
}
