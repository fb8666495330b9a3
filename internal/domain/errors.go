package domain

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrNoteNotFound    = errors.New("note not found")
	ErrSessionNotFound = errors.New("session not found")
)
