package domain

import "time"

// NextNoteIndex is the sentinel a client sends when the server should assign
// the next index in the user's sequence instead of targeting an existing note.
const NextNoteIndex int64 = -1

// Note indices are unique and strictly increasing per user, assigned
// server-side only. Notes are never deleted.
type Note struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Index       int64     `json:"idx"`
	Content     string    `json:"content"`
	DateCreated time.Time `json:"date_created"`
	DateUpdated time.Time `json:"date_updated"`
}

type AuthenticateNoteRequest struct {
	TypingPattern  TypingPattern `json:"typingPattern" validate:"required"`
	NoteContents   string        `json:"noteContents"`
	NoteIndex      int64         `json:"noteIndex"`
	PatternQuality float64       `json:"patternQuality"`
}

type AuthenticateNoteResponse struct {
	AuthenticationStatus   AuthStatus    `json:"authenticationStatus"`
	AuthenticationProgress float64       `json:"authenticationProgress"`
	NoteData               *NoteResponse `json:"noteData,omitempty"`
}

type NoteResponse struct {
	ID          string    `json:"id"`
	Index       int64     `json:"index"`
	Content     string    `json:"content"`
	DateCreated time.Time `json:"dateCreated"`
	DateUpdated time.Time `json:"dateUpdated"`
}

type GetNotesResponse struct {
	RetrievedNotes    []*NoteResponse `json:"retrievedNotes"`
	NoAdditionalNotes bool            `json:"noAdditionalNotes"`
}

type NoteToSave struct {
	ID      string `json:"id" validate:"required"`
	Content string `json:"content"`
}

type SaveNotesRequest struct {
	NotesToSave []NoteToSave `json:"notesToSave" validate:"required,dive"`
}

type SaveNotesResponse struct {
	SavedCount int `json:"savedCount"`
}
