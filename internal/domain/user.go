package domain

import "time"

// User is keyed by the normalized (lowercased) login identifier. Both pattern
// histories are append-only, oldest first; the most recent entry is the one
// the matcher compares fresh samples against.
type User struct {
	ID           string          `json:"id"`
	IDPatterns   []TypingPattern `json:"id_patterns"`
	NotePatterns []TypingPattern `json:"note_patterns"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LastIDPattern returns the most recently stored login pattern.
func (u *User) LastIDPattern() (TypingPattern, bool) {
	if len(u.IDPatterns) == 0 {
		return "", false
	}
	return u.IDPatterns[len(u.IDPatterns)-1], true
}

// LastNotePattern returns the most recently stored note-taking pattern.
func (u *User) LastNotePattern() (TypingPattern, bool) {
	if len(u.NotePatterns) == 0 {
		return "", false
	}
	return u.NotePatterns[len(u.NotePatterns)-1], true
}

type LoginRequest struct {
	LoginID       string        `json:"loginId" validate:"required"`
	TypingPattern TypingPattern `json:"typingPattern" validate:"required"`
	// PatternQuality is the client's 0..1 estimate of how informative the
	// sample is, forwarded to the matcher as a hint.
	PatternQuality float64 `json:"patternQuality"`
}

type LoginResponse struct {
	AuthenticationStatus AuthStatus `json:"authenticationStatus"`
}

type CreateAccountRequest struct {
	TypingPattern  TypingPattern `json:"typingPattern" validate:"required"`
	PatternQuality float64       `json:"patternQuality"`
}

type CreateAccountResponse struct {
	AuthenticationStatus AuthStatus `json:"authenticationStatus"`
}
