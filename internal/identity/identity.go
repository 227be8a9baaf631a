// Package identity ties each browser to a survey session via a cookie.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/session"
)

const (
	SessionCookieName = "survey_session_id"
	cookieMaxAge      = 7 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

// Sessions is the slice of the session service the middleware needs.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Create(ctx context.Context) (*domain.Session, error)
}

// SessionIDFromContext extracts the session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// Middleware resolves the request's survey session: a valid cookie
// pointing at a known session is reused, anything else gets a fresh
// session and cookie. Session creation samples the question bank and
// generates the truth/lie schedule, so it happens here exactly once
// per participant.
func Middleware(sessions Sessions, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(SessionCookieName); err == nil && isValidSessionID(cookie.Value) {
				if _, err := sessions.Get(r.Context(), cookie.Value); err == nil {
					next.ServeHTTP(w, r.WithContext(withSessionID(r.Context(), cookie.Value)))
					return
				} else if !errors.Is(err, session.ErrNotFound) {
					slog.Error("Failed to load session", "session_id", cookie.Value, "error", err)
					http.Error(w, "failed to load session", http.StatusInternalServerError)
					return
				}
			}

			s, err := sessions.Create(r.Context())
			if err != nil {
				slog.Error("Failed to create session", "error", err)
				http.Error(w, "failed to create session", http.StatusInternalServerError)
				return
			}
			SetSessionCookie(w, s.SessionID, isDev)
			next.ServeHTTP(w, r.WithContext(withSessionID(r.Context(), s.SessionID)))
		})
	}
}

// SetSessionCookie writes the session cookie. Secure is dropped in
// development so plain-HTTP localhost keeps working.
func SetSessionCookie(w http.ResponseWriter, sessionID string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   !isDev,
		SameSite: http.SameSiteLaxMode,
	})
}

func withSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func isValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
