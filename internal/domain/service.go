package domain

import (
	"slices"
	"time"
)

// Strategy selects which version an update targets.
type Strategy string

const (
	StrategyLatest Strategy = "latest"
	StrategyPinned Strategy = "pinned"
)

// LatestTag is used as the target version when no newer image was detected.
const LatestTag = "latest"

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLatest, StrategyPinned:
		return Strategy(s), nil
	default:
		return "", &ValidationError{Field: "strategy", Reason: "must be latest or pinned"}
	}
}

// ServiceUnit is one independently versioned service of the stack.
//
// Catalog fields are loaded from services.yaml and refreshed on reload.
// Version fields are owned by the orchestrator and only change when an
// update or rollback operation succeeds.
type ServiceUnit struct {
	// ─────────────────────────────
	// Identity (catalog)
	// ─────────────────────────────

	// ID is the sanitized unique identifier, also used as compose service name.
	ID string `json:"id"`

	DisplayName string `json:"displayName"`
	Category    string `json:"category"`

	// Family selects the capability procedures used for this unit.
	// Example: container, stateless
	Family string `json:"family"`

	// RuntimeHandle is the container name known to the runtime.
	// Example: hub-nextcloud
	RuntimeHandle string `json:"runtimeHandle"`

	// StateDir holds the unit's persistent data, captured by backups.
	StateDir string `json:"stateDir,omitempty"`

	// MigrateCommand runs inside the container for a data migration.
	MigrateCommand []string `json:"migrateCommand,omitempty"`

	// HealthURL is probed after an update. Empty means runtime state only.
	HealthURL string `json:"healthUrl,omitempty"`

	// AllowedStrategies restricts DesiredStrategy. Empty allows all.
	AllowedStrategies []Strategy `json:"allowedStrategies,omitempty"`

	// ─────────────────────────────
	// Versioning
	// ─────────────────────────────

	CurrentVersionRef       string    `json:"currentVersionRef"`
	LastKnownGoodVersionRef string    `json:"lastKnownGoodVersionRef,omitempty"`
	VersionChangedAt        time.Time `json:"versionChangedAt,omitempty"`

	DesiredStrategy  Strategy `json:"desiredStrategy"`
	PinnedVersionRef string   `json:"pinnedVersionRef,omitempty"`

	// AvailableVersionRef is the last version reported by the image watcher.
	AvailableVersionRef string `json:"availableVersionRef,omitempty"`
}

// EffectiveStrategy returns DesiredStrategy, or the first allowed strategy
// when the desired one is not permitted for this unit.
func (u ServiceUnit) EffectiveStrategy() Strategy {
	s := u.DesiredStrategy
	if s == "" {
		s = StrategyLatest
	}
	if len(u.AllowedStrategies) == 0 || slices.Contains(u.AllowedStrategies, s) {
		return s
	}
	return u.AllowedStrategies[0]
}

// TargetVersion resolves the version the next update should deploy.
func (u ServiceUnit) TargetVersion() (string, error) {
	switch u.EffectiveStrategy() {
	case StrategyPinned:
		if u.PinnedVersionRef == "" {
			return "", &ValidationError{Field: "pinnedVersionRef", Reason: "pinned strategy without a pinned version"}
		}
		return u.PinnedVersionRef, nil
	default:
		if u.AvailableVersionRef != "" {
			return u.AvailableVersionRef, nil
		}
		return LatestTag, nil
	}
}

// UpdateAvailable reports whether the watcher saw a version different from the running one.
func (u ServiceUnit) UpdateAvailable() bool {
	return u.AvailableVersionRef != "" && u.AvailableVersionRef != u.CurrentVersionRef
}

// UnitState is the orchestrator-owned part of a unit that survives restarts.
type UnitState struct {
	ID                      string    `json:"id"`
	CurrentVersionRef       string    `json:"currentVersionRef"`
	LastKnownGoodVersionRef string    `json:"lastKnownGoodVersionRef,omitempty"`
	VersionChangedAt        time.Time `json:"versionChangedAt,omitempty"`
	DesiredStrategy         Strategy  `json:"desiredStrategy,omitempty"`
	PinnedVersionRef        string    `json:"pinnedVersionRef,omitempty"`
	AvailableVersionRef     string    `json:"availableVersionRef,omitempty"`
}

// State extracts the persisted part of the unit.
func (u ServiceUnit) State() UnitState {
	return UnitState{
		ID:                      u.ID,
		CurrentVersionRef:       u.CurrentVersionRef,
		LastKnownGoodVersionRef: u.LastKnownGoodVersionRef,
		VersionChangedAt:        u.VersionChangedAt,
		DesiredStrategy:         u.DesiredStrategy,
		PinnedVersionRef:        u.PinnedVersionRef,
		AvailableVersionRef:     u.AvailableVersionRef,
	}
}

// Apply overlays a persisted state on top of catalog data.
func (u *ServiceUnit) Apply(s UnitState) {
	if s.CurrentVersionRef != "" {
		u.CurrentVersionRef = s.CurrentVersionRef
	}
	u.LastKnownGoodVersionRef = s.LastKnownGoodVersionRef
	u.VersionChangedAt = s.VersionChangedAt
	if s.DesiredStrategy != "" {
		u.DesiredStrategy = s.DesiredStrategy
		u.PinnedVersionRef = s.PinnedVersionRef
	}
	u.AvailableVersionRef = s.AvailableVersionRef
}
