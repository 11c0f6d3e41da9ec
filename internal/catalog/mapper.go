package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// DefaultFamily is used when neither the entry nor the defaults name one.
const DefaultFamily = "container"

// Mapper converts catalog entries to domain.ServiceUnit values.
type Mapper struct {
	containerPrefix string
	stateRoot       string
}

// NewMapper creates a mapper. containerPrefix and stateRoot derive the
// runtime handle and state directory of entries that do not set them.
func NewMapper(containerPrefix, stateRoot string) *Mapper {
	return &Mapper{containerPrefix: containerPrefix, stateRoot: stateRoot}
}

// MapUnits converts a catalog file, keeping its order.
func (m *Mapper) MapUnits(f File) ([]domain.ServiceUnit, error) {
	units := make([]domain.ServiceUnit, 0, len(f.Services))
	seen := make(map[string]bool, len(f.Services))

	for i, e := range f.Services {
		id := domain.SanitizeServiceID(e.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d: %w", i, &domain.ValidationError{Field: "id", Reason: "empty after sanitizing"})
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog entry %d: %w", i, &domain.ValidationError{Field: "id", Reason: "duplicate " + id})
		}
		seen[id] = true

		u, err := m.mapEntry(id, e, f.Defaults)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", id, err)
		}
		units = append(units, u)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("no services found in catalog")
	}
	return units, nil
}

func (m *Mapper) mapEntry(id string, e Entry, d Defaults) (domain.ServiceUnit, error) {
	u := domain.ServiceUnit{
		ID:                id,
		DisplayName:       firstNonEmpty(e.Name, id),
		Category:          firstNonEmpty(e.Category, "Uncategorized"),
		Family:            firstNonEmpty(e.Family, d.Family, DefaultFamily),
		RuntimeHandle:     firstNonEmpty(e.Runtime, m.containerPrefix+id),
		StateDir:          e.StateDir,
		MigrateCommand:    e.Migrate,
		HealthURL:         e.HealthURL,
		CurrentVersionRef: firstNonEmpty(e.Version, domain.LatestTag),
		PinnedVersionRef:  e.PinnedVersion,
	}
	if u.StateDir == "" && m.stateRoot != "" {
		u.StateDir = filepath.Join(m.stateRoot, id)
	}

	strategy, err := domain.ParseStrategy(firstNonEmpty(e.Strategy, d.Strategy, string(domain.StrategyLatest)))
	if err != nil {
		return u, err
	}
	u.DesiredStrategy = strategy

	for _, s := range e.AllowedStrategies {
		allowed, err := domain.ParseStrategy(s)
		if err != nil {
			return u, err
		}
		u.AllowedStrategies = append(u.AllowedStrategies, allowed)
	}
	return u, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
