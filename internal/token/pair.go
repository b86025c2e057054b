// Package token holds the session token pair and the store that owns it.
package token

import "time"

// Pair is the access/refresh token pair issued at login and rotated by the
// refresh flow. The two tokens are always written together; a Pair value is
// never partially updated.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Expired reports whether the access token is past its expiry.
func (p *Pair) Expired() bool {
	if p == nil {
		return true
	}
	if p.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(p.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires inside the given
// lead window. Used to trigger a proactive refresh before the server starts
// rejecting requests.
func (p *Pair) ExpiresWithin(lead time.Duration) bool {
	if p == nil {
		return true
	}
	if p.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(lead).Before(p.ExpiresAt)
}

// Clone returns a copy so subscribers cannot mutate the store's state.
func (p *Pair) Clone() *Pair {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
