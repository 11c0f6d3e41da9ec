package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store/memory"
)

type staticSecret string

func (s staticSecret) AdminSecret() string { return string(s) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditSpy struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *auditSpy) Record(_ context.Context, e domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

func newAuthority(t *testing.T, idle bool) (*Authority, *fakeClock, *auditSpy) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	spy := &auditSpy{}
	a := New(staticSecret("correct horse"), Options{
		Timeout:     30 * time.Minute,
		IdleCleanup: idle,
		Audit:       spy,
		Now:         clock.Now,
	})
	return a, clock, spy
}

func TestVerifyCredentials(t *testing.T) {
	ctx := context.Background()
	a, _, spy := newAuthority(t, false)

	_, err := a.VerifyCredentials(ctx, "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = a.VerifyCredentials(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	sess, err := a.VerifyCredentials(ctx, "correct horse")
	require.NoError(t, err)
	assert.Len(t, sess.Token, TokenBytes*2)
	assert.Equal(t, sess.IssuedAt.Add(30*time.Minute), sess.ExpiresAt)

	assert.Equal(t, []string{"verify-admin", "verify-admin", "session-issued"}, spy.actions())
}

func TestEmptyConfiguredSecretRejectsEverything(t *testing.T) {
	a := New(staticSecret(""), Options{Timeout: time.Minute})
	_, err := a.VerifyCredentials(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAuthority(t, false)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := a.Issue(ctx)
		require.NoError(t, err)
		require.False(t, seen[sess.Token])
		seen[sess.Token] = true
	}
}

func TestExpiryBoundaryWithoutIdleCleanup(t *testing.T) {
	ctx := context.Background()
	a, clock, _ := newAuthority(t, false)

	sess, err := a.Issue(ctx)
	require.NoError(t, err)

	clock.Advance(30*time.Minute - time.Second)
	got, err := a.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ExpiresAt, got.ExpiresAt, "expiry must not slide when idle cleanup is off")

	clock.Advance(2 * time.Second)
	_, err = a.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestIdleCleanupSlidesExpiry(t *testing.T) {
	ctx := context.Background()
	a, clock, _ := newAuthority(t, true)

	sess, err := a.Issue(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(20 * time.Minute)
		_, err = a.Validate(ctx, sess.Token)
		require.NoError(t, err, "use within the window keeps the session alive")
	}

	clock.Advance(31 * time.Minute)
	_, err = a.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, _, spy := newAuthority(t, false)

	sess, err := a.Issue(ctx)
	require.NoError(t, err)

	a.Revoke(ctx, sess.Token)
	a.Revoke(ctx, sess.Token)
	a.Revoke(ctx, "unknown")

	_, err = a.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)

	_, err = a.Validate(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	assert.Equal(t, []string{"session-issued", "session-revoked"}, spy.actions())
}

func TestSweepDropsExpiredAndTombstones(t *testing.T) {
	ctx := context.Background()
	a, clock, _ := newAuthority(t, false)

	s1, _ := a.Issue(ctx)
	clock.Advance(20 * time.Minute)
	s2, _ := a.Issue(ctx)
	a.Revoke(ctx, s2.Token)

	assert.Equal(t, 0, a.Sweep(ctx))
	assert.Equal(t, 1, a.Active())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, a.Sweep(ctx), "s1 expired")
	_, err := a.Validate(ctx, s1.Token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, a.Sweep(ctx), "revoked tombstone expired")
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	first := New(staticSecret("pw"), Options{Timeout: 30 * time.Minute, Store: st, Now: clock.Now})
	live, err := first.Issue(ctx)
	require.NoError(t, err)
	clock.Advance(25 * time.Minute)
	fresh, err := first.Issue(ctx)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute) // live is now expired, fresh is not

	second := New(staticSecret("pw"), Options{Timeout: 30 * time.Minute, Store: st, Now: clock.Now})
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = second.Validate(ctx, fresh.Token)
	assert.NoError(t, err)
	_, err = second.Validate(ctx, live.Token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	remaining, _ := st.LoadSessions(ctx)
	assert.Len(t, remaining, 1)
}

func TestToggleIdleCleanup(t *testing.T) {
	ctx := context.Background()
	a, _, spy := newAuthority(t, false)

	a.SetIdleCleanup(ctx, true, "abcd1234")
	assert.True(t, a.IdleCleanup())
	a.SetIdleCleanup(ctx, false, "abcd1234")
	assert.False(t, a.IdleCleanup())
	assert.Equal(t, []string{"toggle-session-cleanup", "toggle-session-cleanup"}, spy.actions())
}
