// Package audit keeps the append-only record of every mutating attempt.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

const (
	// DefaultQueryLimit is the number of entries returned by the logs endpoint.
	DefaultQueryLimit = 100
	// FilterAll disables level or category filtering.
	FilterAll = "ALL"
)

// Recorder is implemented by anything that accepts audit entries.
type Recorder interface {
	Record(ctx context.Context, e domain.AuditEntry)
}

// Sink mirrors entries to a secondary destination (e.g. a Redis stream).
type Sink interface {
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
}

// Log writes JSON lines to a file opened with O_APPEND. Appends take no
// lock: sequence numbers come from an atomic counter and each entry is a
// single write call.
type Log struct {
	path   string
	file   *os.File
	seq    atomic.Uint64
	sinks  []Sink
	now    func() time.Time
	logger logger.Logger
}

// Open opens (or creates) the audit file and resumes its sequence numbering.
func Open(path string, log logger.Logger, sinks ...Sink) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	last, err := lastSeq(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	// Terminate a torn trailing line so the next entry starts cleanly.
	if torn, err := tornTail(path); err == nil && torn {
		_, _ = f.Write([]byte{'\n'})
	}

	l := &Log{
		path:   path,
		file:   f,
		sinks:  sinks,
		now:    time.Now,
		logger: log,
	}
	l.seq.Store(last)
	return l, nil
}

// Record appends an entry. Failures are logged, never returned: an audit
// write problem must not change the outcome of the audited action.
func (l *Log) Record(ctx context.Context, e domain.AuditEntry) {
	e.Seq = l.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = l.now().UTC()
	}
	if e.Level == "" {
		e.Level = domain.LevelInfo
	}

	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", logger.Error(err))
		return
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		l.logger.Error("failed to write audit entry",
			logger.String("path", l.path),
			logger.Error(err))
	}

	for _, s := range l.sinks {
		if err := s.AppendAudit(ctx, e); err != nil {
			l.logger.Warn("failed to mirror audit entry", logger.Error(err))
		}
	}

	l.logger.Debug("audit",
		logger.String("category", e.Category),
		logger.String("action", e.Action),
		logger.String("outcome", e.Outcome),
		logger.ServiceID(e.ServiceID),
		logger.OperationID(e.OperationID))
}

// Query returns the last limit entries matching level and category, oldest
// first. Empty or "ALL" filters match everything.
func (l *Log) Query(level, category string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]domain.AuditEntry, 0, limit)
	err = scan(f, func(e domain.AuditEntry) {
		if !matches(e.Level, level) || !matches(e.Category, category) {
			return
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, e)
	})
	if err != nil {
		return nil, err
	}
	return ring, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}

func matches(value, filter string) bool {
	return filter == "" || strings.EqualFold(filter, FilterAll) || strings.EqualFold(value, filter)
}

// lastSeq returns the highest sequence number already in the file.
func lastSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var last uint64
	err = scan(f, func(e domain.AuditEntry) {
		if e.Seq > last {
			last = e.Seq
		}
	})
	return last, err
}

// tornTail reports whether the file is non-empty and lacks a final newline.
func tornTail(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false, err
	}
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, info.Size()-1); err != nil {
		return false, err
	}
	return b[0] != '\n', nil
}

// scan decodes JSON lines, skipping malformed ones (e.g. a torn final line).
func scan(f *os.File, fn func(domain.AuditEntry)) error {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e domain.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to scan audit file: %w", err)
	}
	return nil
}
