// Package secrets reads the restricted-permission secrets file holding the
// admin credential and the webhook API key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

const (
	KeyAdminSecret = "ADMIN_PASS_RAW"
	KeyAPIKey      = "HUB_API_KEY"

	secretsDirMode  = 0o700
	secretsFileMode = 0o600

	// MinAPIKeyLength is the shortest accepted API key.
	MinAPIKeyLength = 16
)

// Store holds the secrets loaded from a dotenv-style file.
type Store struct {
	path   string
	logger logger.Logger

	mu          sync.RWMutex
	adminSecret string
	apiKey      string
}

// Load reads the secrets file.
func Load(path string, log logger.Logger) (*Store, error) {
	s := &Store{path: filepath.Clean(path), logger: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file, e.g. after an external rotation.
func (s *Store) Reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		s.logger.Warn("secrets file is readable by group or others",
			logger.String("path", s.path),
			logger.String("mode", info.Mode().Perm().String()))
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// viper lower-cases keys
	s.adminSecret = v.GetString(strings.ToLower(KeyAdminSecret))
	s.apiKey = v.GetString(strings.ToLower(KeyAPIKey))

	if s.adminSecret == "" {
		s.logger.Warn("admin secret is empty, every login will be rejected",
			logger.String("key", KeyAdminSecret))
	}
	return nil
}

// AdminSecret returns the admin credential.
func (s *Store) AdminSecret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adminSecret
}

// APIKey returns the webhook API key.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// ValidateAPIKey checks that key is alphanumeric and long enough.
func ValidateAPIKey(key string) error {
	if len(key) < MinAPIKeyLength {
		return fmt.Errorf("api key must be at least %d characters", MinAPIKeyLength)
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("api key must be alphanumeric")
		}
	}
	return nil
}

// RotateAPIKey replaces the API key in the file, keeping every other line.
// The file is rewritten through a temp file and rename with mode 0600.
func (s *Store) RotateAPIKey(newKey string) error {
	if err := ValidateAPIKey(newKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	content := replaceKey(string(data), KeyAPIKey, newKey)
	if err := writeFileAtomic(s.path, []byte(content)); err != nil {
		return err
	}

	s.apiKey = newKey
	s.logger.Info("api key rotated", logger.String("path", s.path))
	return nil
}

// replaceKey sets KEY='value', replacing an existing assignment or appending one.
func replaceKey(content, key, value string) string {
	assignment := fmt.Sprintf("%s='%s'", key, value)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimPrefix(strings.TrimSpace(line), "export ")
		if strings.HasPrefix(trimmed, key+"=") {
			lines[i] = assignment
			replaced = true
		}
	}
	if !replaced {
		if len(lines) == 1 && lines[0] == "" {
			lines = lines[:0]
		}
		lines = append(lines, assignment)
	}
	return strings.Join(lines, "\n") + "\n"
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, secretsDirMode); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".secrets-*")
	if err != nil {
		return fmt.Errorf("failed to create temp secrets file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(secretsFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod secrets file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close secrets file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}
