package catalog

// File is the root structure of services.yaml.
//
// Units are listed in deployment order:
//
//	services:
//	  - id: nextcloud
//	    name: Nextcloud
//	    category: Productivity
//	    strategy: pinned
//	    pinned_version: "29.0.4"
type File struct {
	Defaults Defaults `yaml:"defaults,omitempty"`
	Services []Entry  `yaml:"services"`
}

// Defaults apply to every entry that leaves the field empty.
type Defaults struct {
	Family   string `yaml:"family,omitempty"`
	Strategy string `yaml:"strategy,omitempty"`
}

// Entry describes one service unit.
type Entry struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name,omitempty"`
	Category          string   `yaml:"category,omitempty"`
	Family            string   `yaml:"family,omitempty"`
	Version           string   `yaml:"version,omitempty"`
	Strategy          string   `yaml:"strategy,omitempty"`
	PinnedVersion     string   `yaml:"pinned_version,omitempty"`
	AllowedStrategies []string `yaml:"allowed_strategies,omitempty"`
	Runtime           string   `yaml:"runtime,omitempty"`
	StateDir          string   `yaml:"state_dir,omitempty"`
	Migrate           []string `yaml:"migrate,omitempty"`
	HealthURL         string   `yaml:"health_url,omitempty"`
}
