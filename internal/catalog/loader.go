// Package catalog reads the service catalog (services.yaml) and maps it to
// domain service units.
package catalog

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manifest generators leave {{VAR}} placeholders behind. They carry no
// lifecycle information and are blanked before decoding.
var placeholder = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Loader reads one catalog file and remembers the digest of the last
// successful read.
type Loader struct {
	path string

	mu   sync.Mutex
	last [sha256.Size]byte
	seen bool
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Path() string { return l.path }

// Load reads and decodes the catalog. changed is false when the bytes on
// disk are identical to the previous successful Load.
func (l *Loader) Load() (f File, changed bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return File{}, false, fmt.Errorf("failed to read catalog %s: %w", l.path, err)
	}
	if f, err = Parse(data); err != nil {
		return File{}, false, err
	}

	sum := sha256.Sum256(data)
	l.mu.Lock()
	changed = !l.seen || sum != l.last
	l.last, l.seen = sum, true
	l.mu.Unlock()

	return f, changed, nil
}

// Parse decodes catalog YAML. Unknown keys are rejected so a typo in a
// field name does not silently fall back to a default.
func Parse(data []byte) (File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(placeholder.ReplaceAll(data, []byte(`""`))))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse catalog yaml: %w", err)
	}
	return f, nil
}
