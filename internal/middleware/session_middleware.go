package middleware

import (
	"context"
	"net/http"
	"time"

	"cadence-diary-server/internal/domain"
	"cadence-diary-server/internal/repository"
	"cadence-diary-server/pkg/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const SessionKey contextKey = "session"

const sessionCookie = "diary_session"

// SessionMiddleware resolves the signed session cookie into the server-side
// session record, creating a fresh unauthenticated session when the cookie is
// missing, invalid, or expired. Every endpoint behind it can rely on a
// session being present; what it cannot rely on is the trust level.
func SessionMiddleware(sessions repository.SessionRepository, secret string, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := resolveSession(r, sessions, secret)

			if sess == nil {
				var err error
				sess, err = newSession(w, sessions, secret, ttl)
				if err != nil {
					logger.Error("failed to create session", zap.Error(err))
					http.Error(w, "session store unavailable", http.StatusInternalServerError)
					return
				}
			}

			ctx := context.WithValue(r.Context(), SessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSession(r *http.Request, sessions repository.SessionRepository, secret string) *domain.Session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	claims, err := token.Validate(cookie.Value, secret)
	if err != nil {
		return nil
	}

	sess, err := sessions.Find(claims.SessionID)
	if err != nil {
		return nil
	}

	return sess
}

func newSession(w http.ResponseWriter, sessions repository.SessionRepository, secret string, ttl time.Duration) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		Trust:     domain.TrustUnknown,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := sessions.Create(sess); err != nil {
		return nil, err
	}

	signed, err := token.Generate(sess.ID, ttl, secret)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})

	return sess, nil
}

// ClearSessionCookie expires the cookie after logout.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func GetSession(r *http.Request) *domain.Session {
	sess, ok := r.Context().Value(SessionKey).(*domain.Session)
	if !ok {
		return nil
	}
	return sess
}
