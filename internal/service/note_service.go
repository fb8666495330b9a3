package service

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/matcher"
	"cadence-diary-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoteService drives the continuous note-authentication machine. It runs for
// as long as the user types: each call either re-confirms trust or withholds
// the write, but a failure never demotes the session.
type NoteService struct {
	users              repository.UserRepository
	notes              repository.NoteRepository
	sessions           repository.SessionRepository
	matcher            matcher.Client
	minScore           int
	minFirstNoteLength int
	pageSize           int
	logger             *zap.Logger
}

func NewNoteService(
	users repository.UserRepository,
	notes repository.NoteRepository,
	sessions repository.SessionRepository,
	matcherClient matcher.Client,
	minScore int,
	minFirstNoteLength int,
	pageSize int,
	logger *zap.Logger,
) *NoteService {
	return &NoteService{
		users:              users,
		notes:              notes,
		sessions:           sessions,
		matcher:            matcherClient,
		minScore:           minScore,
		minFirstNoteLength: minFirstNoteLength,
		pageSize:           pageSize,
		logger:             logger,
	}
}

// Authenticate verifies a typing pattern captured over the note being
// written. The first-ever note is the bootstrap: accepted on length alone
// because no prior note pattern exists to compare against.
func (s *NoteService) Authenticate(ctx context.Context, sess *domain.Session, req *domain.AuthenticateNoteRequest) (*domain.AuthenticateNoteResponse, error) {
	if sess.Trust < domain.TrustIdentified {
		return nil, ErrInsufficientTrust
	}

	user, err := s.sessionUser(sess)
	if err != nil {
		s.logger.Error("user lookup failed", zap.Error(err))
		return errResponse(), nil
	}

	if len(user.NotePatterns) == 0 {
		return s.bootstrap(sess, user, req)
	}

	return s.steadyState(ctx, sess, user, req)
}

func (s *NoteService) bootstrap(sess *domain.Session, user *domain.User, req *domain.AuthenticateNoteRequest) (*domain.AuthenticateNoteResponse, error) {
	// The minimum length is in characters, not bytes; multibyte scripts
	// must not reach the threshold early.
	length := utf8.RuneCountInString(req.NoteContents)
	if length < s.minFirstNoteLength {
		// Not enough text to seed the pattern history; the progress value
		// drives the UI ring without a real score behind it.
		return &domain.AuthenticateNoteResponse{
			AuthenticationStatus:   domain.AuthFailure,
			AuthenticationProgress: clampProgress(float64(length) / float64(s.minFirstNoteLength)),
		}, nil
	}

	if err := s.users.AppendNotePattern(user.ID, req.TypingPattern); err != nil {
		s.logger.Error("failed to append note pattern", zap.Error(err))
		return errResponse(), nil
	}
	user.NotePatterns = append(user.NotePatterns, req.TypingPattern)

	note, err := s.persistNote(user.ID, domain.NextNoteIndex, req.NoteContents)
	if err != nil {
		// The pattern append already succeeded, but partial success is not
		// success: the caller must see an error, not a created note.
		s.logger.Error("failed to persist bootstrap note", zap.Error(err))
		return errResponse(), nil
	}

	sess.CachedUser = user
	sess.Elevate(domain.TrustAuthenticated)
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("session update failed", zap.Error(err))
		return errResponse(), nil
	}

	return &domain.AuthenticateNoteResponse{
		AuthenticationStatus:   domain.AuthSuccess,
		AuthenticationProgress: 1,
		NoteData:               noteResponse(note),
	}, nil
}

func (s *NoteService) steadyState(ctx context.Context, sess *domain.Session, user *domain.User, req *domain.AuthenticateNoteRequest) (*domain.AuthenticateNoteResponse, error) {
	reference, _ := user.LastNotePattern()
	outcome, err := s.matcher.Match(ctx, req.TypingPattern, reference, matchQuality(req.PatternQuality))
	if err != nil {
		s.logger.Warn("matcher unavailable during note authentication", zap.Error(err))
		return errResponse(), nil
	}

	if outcome.Score < s.minScore {
		// Score ratio is client feedback only, not a calibrated probability.
		return &domain.AuthenticateNoteResponse{
			AuthenticationStatus:   domain.AuthFailure,
			AuthenticationProgress: clampProgress(float64(outcome.Score) / float64(s.minScore)),
		}, nil
	}

	if err := s.users.AppendNotePattern(user.ID, req.TypingPattern); err != nil {
		s.logger.Error("failed to append note pattern", zap.Error(err))
		return errResponse(), nil
	}
	user.NotePatterns = append(user.NotePatterns, req.TypingPattern)

	note, err := s.persistNote(user.ID, req.NoteIndex, req.NoteContents)
	if err != nil {
		s.logger.Error("failed to persist note", zap.Error(err))
		return errResponse(), nil
	}

	sess.CachedUser = user
	sess.Elevate(domain.TrustAuthenticated)
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("session update failed", zap.Error(err))
		return errResponse(), nil
	}

	return &domain.AuthenticateNoteResponse{
		AuthenticationStatus:   domain.AuthSuccess,
		AuthenticationProgress: 1,
		NoteData:               noteResponse(note),
	}, nil
}

// persistNote creates the note when index is the assign-next sentinel,
// otherwise updates the content of the note already holding that index.
func (s *NoteService) persistNote(userID string, index int64, content string) (*domain.Note, error) {
	now := time.Now()

	if index == domain.NextNoteIndex {
		next, err := s.notes.NextIndex(userID)
		if err != nil {
			return nil, err
		}
		note := &domain.Note{
			ID:          uuid.New().String(),
			UserID:      userID,
			Index:       next,
			Content:     content,
			DateCreated: now,
			DateUpdated: now,
		}
		if err := s.notes.Upsert(note); err != nil {
			return nil, err
		}
		return note, nil
	}

	note, err := s.notes.FindByIndex(userID, index)
	if err != nil {
		return nil, err
	}
	note.Content = content
	note.DateUpdated = now
	if err := s.notes.Upsert(note); err != nil {
		return nil, err
	}
	return note, nil
}

// GetNotes serves one reverse-chronological page. A page shorter than the
// configured size is the end-of-list sentinel, not an error.
func (s *NoteService) GetNotes(sess *domain.Session, beforeIndex int64) (*domain.GetNotesResponse, error) {
	if sess.Trust < domain.TrustAuthenticated {
		return nil, ErrInsufficientTrust
	}

	if beforeIndex <= 0 {
		beforeIndex = math.MaxInt64
	}

	notes, err := s.notes.Page(sess.Key, beforeIndex, s.pageSize)
	if err != nil {
		return nil, err
	}

	resp := &domain.GetNotesResponse{
		RetrievedNotes:    make([]*domain.NoteResponse, 0, len(notes)),
		NoAdditionalNotes: len(notes) < s.pageSize,
	}
	for _, n := range notes {
		resp.RetrievedNotes = append(resp.RetrievedNotes, noteResponse(n))
	}

	return resp, nil
}

// SaveNotes applies one client-side batch of dirty-note edits.
func (s *NoteService) SaveNotes(sess *domain.Session, req *domain.SaveNotesRequest) (*domain.SaveNotesResponse, error) {
	if sess.Trust < domain.TrustAuthenticated {
		return nil, ErrInsufficientTrust
	}

	saved := 0
	for _, entry := range req.NotesToSave {
		note, err := s.notes.FindByID(entry.ID)
		if err != nil {
			return nil, err
		}
		if note.UserID != sess.Key {
			return nil, ErrNotOwner
		}

		note.Content = entry.Content
		note.DateUpdated = time.Now()
		if err := s.notes.Upsert(note); err != nil {
			return nil, err
		}
		saved++
	}

	return &domain.SaveNotesResponse{SavedCount: saved}, nil
}

func (s *NoteService) sessionUser(sess *domain.Session) (*domain.User, error) {
	// The cached record is valid for the session's lifetime; it is never
	// consulted for index assignment, which has its own counter.
	if sess.CachedUser != nil {
		return sess.CachedUser, nil
	}
	user, err := s.users.Find(sess.Key)
	if err != nil {
		return nil, err
	}
	sess.CachedUser = user
	return user, nil
}

func errResponse() *domain.AuthenticateNoteResponse {
	return &domain.AuthenticateNoteResponse{AuthenticationStatus: domain.AuthError}
}

func noteResponse(n *domain.Note) *domain.NoteResponse {
	return &domain.NoteResponse{
		ID:          n.ID,
		Index:       n.Index,
		Content:     n.Content,
		DateCreated: n.DateCreated,
		DateUpdated: n.DateUpdated,
	}
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
