package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoaderLoad(t *testing.T) {
	path := writeFile(t, `---
defaults:
  family: container
services:
  - id: nextcloud
    name: Nextcloud
    category: Productivity
    version: "29.0.3"
    strategy: pinned
    pinned_version: "29.0.4"
  - id: jellyfin
    health_url: http://jellyfin:8096/health
`)

	f, changed, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, f.Services, 2)
	assert.Equal(t, "29.0.4", f.Services[0].PinnedVersion)
	assert.Equal(t, "http://jellyfin:8096/health", f.Services[1].HealthURL)
	assert.Equal(t, "container", f.Defaults.Family)
}

func TestLoaderReportsChanges(t *testing.T) {
	path := writeFile(t, "services:\n  - id: adguard\n")
	l := NewLoader(path)

	_, changed, err := l.Load()
	require.NoError(t, err)
	assert.True(t, changed, "first load")

	_, changed, err = l.Load()
	require.NoError(t, err)
	assert.False(t, changed, "same bytes")

	require.NoError(t, os.WriteFile(path, []byte("services:\n  - id: adguard\n  - id: immich\n"), 0o600))
	f, changed, err := l.Load()
	require.NoError(t, err)
	assert.True(t, changed, "edited file")
	assert.Len(t, f.Services, 2)
}

func TestLoaderMissingFile(t *testing.T) {
	_, _, err := NewLoader(filepath.Join(t.TempDir(), "services.yaml")).Load()
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "placeholders are blanked", input: "services:\n  - id: adguard\n    health_url: {{HUB_VAR_ADGUARD_URL}}\n", want: 1},
		{name: "empty document", input: "", want: 0},
		{name: "broken yaml", input: "services: [unterminated", wantErr: true},
		{name: "unknown key", input: "services:\n  - id: adguard\n    helth_url: http://x\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.Services, tt.want)
			for _, s := range f.Services {
				assert.Empty(t, s.HealthURL)
			}
		})
	}
}
