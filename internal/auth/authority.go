// Package auth authenticates the admin secret and manages bearer sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// TokenBytes is the amount of randomness in a session token (192 bits).
const TokenBytes = 24

// CredentialSource provides the admin secret.
type CredentialSource interface {
	AdminSecret() string
}

// Options configures an Authority.
type Options struct {
	Timeout     time.Duration
	IdleCleanup bool
	Store       store.Sessions // optional persistence
	Audit       audit.Recorder // optional
	Logger      logger.Logger
	Now         func() time.Time // defaults to time.Now
}

// Authority issues, validates and revokes sessions.
type Authority struct {
	creds   CredentialSource
	timeout time.Duration
	idle    atomic.Bool
	store   store.Sessions
	audit   audit.Recorder
	logger  logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// New creates an Authority.
func New(creds CredentialSource, opts Options) *Authority {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	a := &Authority{
		creds:    creds,
		timeout:  opts.Timeout,
		store:    opts.Store,
		audit:    opts.Audit,
		logger:   opts.Logger,
		now:      opts.Now,
		sessions: make(map[string]*domain.Session),
	}
	a.idle.Store(opts.IdleCleanup)
	return a
}

// Restore reloads persisted sessions, dropping expired ones.
func (a *Authority) Restore(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	sessions, err := a.store.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	restored := 0
	for _, s := range sessions {
		if s.Expired(now) {
			_ = a.store.DeleteSession(ctx, s.Token)
			continue
		}
		sess := s
		a.sessions[s.Token] = &sess
		restored++
	}
	metrics.ActiveSessions.Set(float64(len(a.sessions)))
	return restored, nil
}

// VerifyCredentials checks secret against the admin credential in constant
// time and issues a session on success.
func (a *Authority) VerifyCredentials(ctx context.Context, secret string) (domain.Session, error) {
	if !a.secretMatches(secret) {
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		a.record(ctx, domain.AuditEntry{
			Level:    domain.LevelWarn,
			Action:   "verify-admin",
			Outcome:  "rejected",
			Message:  "invalid admin credentials",
			Category: domain.CategoryAuth,
		})
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	return a.Issue(ctx)
}

// secretMatches hashes both sides so the comparison does not leak length.
func (a *Authority) secretMatches(secret string) bool {
	expected := a.creds.AdminSecret()
	if expected == "" || secret == "" {
		return false
	}
	got := sha256.Sum256([]byte(secret))
	want := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// Issue creates a new session expiring after the configured timeout.
func (a *Authority) Issue(ctx context.Context) (domain.Session, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return domain.Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := a.now()
	sess := domain.Session{
		Token:     hex.EncodeToString(buf),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.timeout),
	}

	a.mu.Lock()
	stored := sess
	a.sessions[sess.Token] = &stored
	metrics.ActiveSessions.Set(float64(len(a.sessions)))
	a.mu.Unlock()

	a.persist(ctx, sess)
	a.record(ctx, domain.AuditEntry{
		Category: domain.CategoryAuth,
		Action:   "session-issued",
		Actor:    sess.Fingerprint(),
		Outcome:  "success",
		Message:  fmt.Sprintf("session issued, expires %s", sess.ExpiresAt.UTC().Format(time.RFC3339)),
	})
	return sess, nil
}

// Validate checks a token. With idle cleanup enabled, a successful
// validation slides the expiry forward by the full timeout.
func (a *Authority) Validate(ctx context.Context, token string) (domain.Session, error) {
	now := a.now()

	a.mu.Lock()
	sess, ok := a.sessions[token]
	if !ok {
		a.mu.Unlock()
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if sess.Revoked {
		a.mu.Unlock()
		return domain.Session{}, domain.ErrSessionRevoked
	}
	if sess.Expired(now) {
		delete(a.sessions, token)
		metrics.ActiveSessions.Set(float64(len(a.sessions)))
		a.mu.Unlock()
		a.forget(ctx, token)
		return domain.Session{}, domain.ErrSessionExpired
	}
	slid := false
	if a.idle.Load() {
		sess.ExpiresAt = now.Add(a.timeout)
		slid = true
	}
	out := *sess
	a.mu.Unlock()

	if slid {
		a.persist(ctx, out)
	}
	return out, nil
}

// Revoke invalidates a token. Revoking twice, or an unknown token, is a no-op.
func (a *Authority) Revoke(ctx context.Context, token string) {
	a.mu.Lock()
	sess, ok := a.sessions[token]
	if !ok || sess.Revoked {
		a.mu.Unlock()
		return
	}
	// Keep a tombstone until expiry so later use reports Revoked.
	sess.Revoked = true
	a.mu.Unlock()

	a.forget(ctx, token)
	a.record(ctx, domain.AuditEntry{
		Category: domain.CategoryAuth,
		Action:   "session-revoked",
		Actor:    domain.Fingerprint(token),
		Outcome:  "success",
		Message:  "session revoked",
	})
}

// SetIdleCleanup toggles sliding expiry and the idle sweep.
func (a *Authority) SetIdleCleanup(ctx context.Context, enabled bool, actor string) {
	a.idle.Store(enabled)
	a.record(ctx, domain.AuditEntry{
		Category: domain.CategoryAuth,
		Action:   "toggle-session-cleanup",
		Actor:    actor,
		Outcome:  "success",
		Message:  fmt.Sprintf("session cleanup enabled=%v", enabled),
	})
}

// IdleCleanup reports whether sliding expiry is enabled.
func (a *Authority) IdleCleanup() bool {
	return a.idle.Load()
}

// Timeout returns the configured session lifetime.
func (a *Authority) Timeout() time.Duration {
	return a.timeout
}

// Sweep removes expired sessions and revoked tombstones past their expiry.
func (a *Authority) Sweep(ctx context.Context) int {
	now := a.now()
	var expired []string

	a.mu.Lock()
	for token, sess := range a.sessions {
		if sess.Expired(now) {
			delete(a.sessions, token)
			expired = append(expired, token)
		}
	}
	metrics.ActiveSessions.Set(float64(len(a.sessions)))
	a.mu.Unlock()

	for _, token := range expired {
		a.forget(ctx, token)
	}
	return len(expired)
}

// Active returns the number of live, unrevoked sessions.
func (a *Authority) Active() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, sess := range a.sessions {
		if !sess.Revoked && !sess.Expired(now) {
			n++
		}
	}
	return n
}

func (a *Authority) persist(ctx context.Context, sess domain.Session) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveSession(ctx, sess); err != nil {
		a.logger.Warn("failed to persist session",
			logger.String("session", sess.Fingerprint()),
			logger.Error(err))
	}
}

func (a *Authority) forget(ctx context.Context, token string) {
	if a.store == nil {
		return
	}
	if err := a.store.DeleteSession(ctx, token); err != nil {
		a.logger.Warn("failed to delete persisted session",
			logger.String("session", domain.Fingerprint(token)),
			logger.Error(err))
	}
}

func (a *Authority) record(ctx context.Context, e domain.AuditEntry) {
	if a.audit != nil {
		a.audit.Record(ctx, e)
	}
}
