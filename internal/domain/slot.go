package domain

import (
	"strings"
	"time"
)

// SlotID identifies one of the two deployment slots.
type SlotID string

const (
	SlotA SlotID = "A"
	SlotB SlotID = "B"
)

// ParseSlotID accepts "a", "A", "b" or "B".
func ParseSlotID(s string) (SlotID, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return SlotA, true
	case "B":
		return SlotB, true
	default:
		return "", false
	}
}

// SlotRole is the role a slot currently plays.
type SlotRole string

const (
	RoleActive  SlotRole = "active"
	RoleStandby SlotRole = "standby"
)

// Slot is one whole-stack deployment environment.
type Slot struct {
	ID              SlotID    `json:"id"`
	Role            SlotRole  `json:"role"`
	StackVersionRef string    `json:"stackVersionRef"`
	ComposeFile     string    `json:"composeFile,omitempty"`
	LastSwitchedAt  time.Time `json:"lastSwitchedAt,omitempty"`
}

// SlotPair holds both slots. It is replaced as a whole on every switch so
// that exactly one slot is ever observed as active.
type SlotPair struct {
	Active  Slot `json:"active"`
	Standby Slot `json:"standby"`
}

// Swapped returns the pair with roles exchanged.
func (p SlotPair) Swapped(at time.Time) SlotPair {
	next := SlotPair{Active: p.Standby, Standby: p.Active}
	next.Active.Role = RoleActive
	next.Active.LastSwitchedAt = at
	next.Standby.Role = RoleStandby
	next.Standby.LastSwitchedAt = at
	return next
}

// Slots returns the pair ordered A then B.
func (p SlotPair) Slots() []Slot {
	if p.Active.ID == SlotA {
		return []Slot{p.Active, p.Standby}
	}
	return []Slot{p.Standby, p.Active}
}
