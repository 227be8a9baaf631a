// Package api provides HTTP handlers for the survey chatbot API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/identity"
	"github.com/ashureev/survey-chatbot/internal/matcher"
	"github.com/ashureev/survey-chatbot/internal/oracle"
	"github.com/ashureev/survey-chatbot/internal/session"
)

// maxRequestBodySize caps chat request bodies (64KB).
const maxRequestBodySize = 64 << 10

// SessionService is the slice of the session service the handlers use.
type SessionService interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Create(ctx context.Context) (*domain.Session, error)
	ProcessTurn(ctx context.Context, sessionID, userText string) (session.TurnResult, error)
}

// Handler serves the survey chat API.
type Handler struct {
	svc   SessionService
	isDev bool
}

// NewHandler creates a new Handler.
func NewHandler(svc SessionService, isDev bool) *Handler {
	return &Handler{svc: svc, isDev: isDev}
}

// RegisterRoutes mounts the API endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/session", h.GetSession)
	r.Post("/api/session/reset", h.ResetSession)
	r.Get("/api/questions", h.ListQuestions)
	r.Post("/api/chat", h.Chat)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type sessionResponse struct {
	SessionID       string           `json:"session_id"`
	Turn            int              `json:"turn"`
	TotalTurns      int              `json:"total_turns"`
	Messages        []domain.Message `json:"messages"`
	UsedQuestionIDs []string         `json:"used_question_ids"`
	Completed       bool             `json:"completed"`
	Uploaded        bool             `json:"uploaded"`
	ShareLink       string           `json:"share_link,omitempty"`
}

// GetSession returns the current session snapshot for the cookie's
// session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s))
}

// ResetSession abandons the current session and starts a fresh one.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Create(r.Context())
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	identity.SetSessionCookie(w, s.SessionID, h.isDev)
	JSON(w, http.StatusCreated, toSessionResponse(s))
}

type questionEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Used bool   `json:"used"`
}

// ListQuestions returns the session's candidate questions in bank
// order, with used flags for sidebar strike-through rendering. Ground
// truths never leave the server.
func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	entries := make([]questionEntry, 0, s.Bank.Len())
	for _, q := range s.Bank.Questions {
		entries = append(entries, questionEntry{
			ID:   q.ID,
			Text: q.Text,
			Used: s.HasUsed(q.ID),
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"questions": entries})
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat processes one survey turn for the cookie's session.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.ProcessTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		h.writeTurnError(w, sessionID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

func (h *Handler) writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		Error(w, http.StatusBadRequest, "message cannot be empty")
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSessionCompleted):
		Error(w, http.StatusConflict, "session already completed")
	case errors.Is(err, matcher.ErrNoConfidentMatch):
		Error(w, http.StatusUnprocessableEntity, "question not recognized, please rephrase or pick one from the list")
	case errors.Is(err, oracle.ErrUnavailable):
		slog.Error("Oracle unavailable", "session_id", sessionID, "error", err)
		Error(w, http.StatusBadGateway, "assistant is unavailable, please retry")
	default:
		slog.Error("Turn processing failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
	}
}

func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return nil, false
	}
	s, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		slog.Error("Failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:       s.SessionID,
		Turn:            s.Turn,
		TotalTurns:      len(s.Schedule),
		Messages:        s.Messages,
		UsedQuestionIDs: s.UsedIDs(),
		Completed:       s.Completed,
		Uploaded:        s.Uploaded,
		ShareLink:       s.ShareLink,
	}
}
