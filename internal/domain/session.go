package domain

import "time"

type TrustLevel int

const (
	// TrustUnknown is an unauthenticated session; at most a candidate
	// identifier and a pending bootstrap pattern are attached.
	TrustUnknown TrustLevel = 0
	// TrustIdentified means the login pattern matched (or the account was
	// just bootstrapped). Enough to start writing, not to read history.
	TrustIdentified TrustLevel = 1
	// TrustAuthenticated means a note-taking pattern matched as well.
	TrustAuthenticated TrustLevel = 2
)

// Session is ephemeral server-side state keyed by a store-issued id. Trust is
// monotonic non-decreasing for the session's lifetime; a failed
// re-verification withholds elevation but never demotes.
type Session struct {
	ID             string        `json:"id"`
	Key            string        `json:"key,omitempty"`
	Trust          TrustLevel    `json:"trust"`
	PendingPattern TypingPattern `json:"pending_pattern,omitempty"`
	CachedUser     *User         `json:"cached_user,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Elevate raises the trust level, never lowers it.
func (s *Session) Elevate(level TrustLevel) {
	if level > s.Trust {
		s.Trust = level
	}
}
