package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/matcher"
	"cadence-diary-server/internal/repository"

	"go.uber.org/zap"
)

// AuthService drives the login / account-creation state machine. A login
// attempt against an identifier with fewer than two stored patterns always
// reports userNotFound, which is the path that invites account creation.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	matcher  matcher.Client
	minScore int
	logger   *zap.Logger
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	matcherClient matcher.Client,
	minScore int,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		matcher:  matcherClient,
		minScore: minScore,
		logger:   logger,
	}
}

// matchQuality maps the client's 0..1 quality estimate onto the matcher's
// 1..5 hint scale. An absent estimate degrades to the lowest hint.
func matchQuality(q float64) int {
	if q <= 0 {
		return 1
	}
	if q > 1 {
		q = 1
	}
	return 1 + int(math.Round(q*4))
}

// NormalizeLoginID lowercases the identifier and rejects values that could be
// read as store operators. CouchDB reserves "_" doc-id prefixes and "$" Mango
// selector operators.
func NormalizeLoginID(loginID string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(loginID))
	if id == "" || strings.HasPrefix(id, "$") || strings.HasPrefix(id, "_") {
		return "", false
	}
	return id, true
}

func (s *AuthService) Login(ctx context.Context, sess *domain.Session, req *domain.LoginRequest) *domain.LoginResponse {
	key, ok := NormalizeLoginID(req.LoginID)
	if !ok {
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthFailure}
	}

	user, err := s.users.Find(key)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		s.logger.Error("user lookup failed", zap.Error(err))
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}
	}

	if user == nil || len(user.IDPatterns) < 2 {
		sess.Key = key
		sess.PendingPattern = req.TypingPattern
		sess.Trust = domain.TrustUnknown
		if err := s.sessions.Update(sess); err != nil {
			s.logger.Error("session update failed", zap.Error(err))
			return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}
		}
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthUserNotFound}
	}

	reference, _ := user.LastIDPattern()
	outcome, err := s.matcher.Match(ctx, req.TypingPattern, reference, matchQuality(req.PatternQuality))
	if err != nil {
		s.logger.Warn("matcher unavailable during login", zap.Error(err))
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}
	}

	if outcome.Score < s.minScore {
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthFailure}
	}

	if err := s.users.AppendLoginPattern(key, req.TypingPattern); err != nil {
		s.logger.Error("failed to append login pattern", zap.Error(err))
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}
	}

	user.IDPatterns = append(user.IDPatterns, req.TypingPattern)
	sess.Key = key
	sess.PendingPattern = ""
	sess.CachedUser = user
	sess.Elevate(domain.TrustIdentified)
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("session update failed", zap.Error(err))
		return &domain.LoginResponse{AuthenticationStatus: domain.AuthError}
	}

	return &domain.LoginResponse{AuthenticationStatus: domain.AuthSuccess}
}

// CreateAccount compares the pattern pending from a prior userNotFound login
// against a fresh pattern captured while the user retyped their identifier.
// The pending pattern is discarded no matter how the comparison goes.
func (s *AuthService) CreateAccount(ctx context.Context, sess *domain.Session, req *domain.CreateAccountRequest) (*domain.CreateAccountResponse, error) {
	if sess.PendingPattern.Empty() || sess.Key == "" {
		return nil, ErrNoPendingPattern
	}

	pending := sess.PendingPattern
	key := sess.Key
	sess.PendingPattern = ""
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("session update failed", zap.Error(err))
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	outcome, err := s.matcher.Match(ctx, req.TypingPattern, pending, matchQuality(req.PatternQuality))
	if err != nil {
		s.logger.Warn("matcher unavailable during account creation", zap.Error(err))
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	if outcome.Score < s.minScore {
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthFailure}, nil
	}

	now := time.Now()
	user := &domain.User{
		ID:         key,
		IDPatterns: []domain.TypingPattern{pending, req.TypingPattern},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Insert(user); err != nil {
		s.logger.Error("failed to create user", zap.Error(err))
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	sess.CachedUser = user
	sess.Elevate(domain.TrustIdentified)
	if err := s.sessions.Update(sess); err != nil {
		s.logger.Error("session update failed", zap.Error(err))
		return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthError}, nil
	}

	return &domain.CreateAccountResponse{AuthenticationStatus: domain.AuthSuccess}, nil
}

// Logout destroys the session outright. Trust never survives it.
func (s *AuthService) Logout(sess *domain.Session) error {
	if err := s.sessions.Destroy(sess.ID); err != nil {
		return err
	}
	return nil
}
