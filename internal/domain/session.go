package domain

import "time"

// Session is an authenticated admin bearer credential.
type Session struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Fingerprint identifies the session in logs and audit entries without leaking the token.
func (s Session) Fingerprint() string {
	return Fingerprint(s.Token)
}

// Fingerprint returns the first characters of a token.
func Fingerprint(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
