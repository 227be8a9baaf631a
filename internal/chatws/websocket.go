// Package chatws provides a WebSocket transport for the survey chat,
// as an alternative to the HTTP POST endpoint.
package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/survey-chatbot/internal/api"
	"github.com/ashureev/survey-chatbot/internal/identity"
	"github.com/ashureev/survey-chatbot/internal/matcher"
	"github.com/ashureev/survey-chatbot/internal/oracle"
	"github.com/ashureev/survey-chatbot/internal/session"
)

const turnTimeout = 2 * time.Minute

// Handler upgrades chat connections to WebSocket and runs the turn
// loop over the socket.
type Handler struct {
	svc           api.SessionService
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket chat handler.
func NewHandler(svc api.SessionService, allowedOrigin string, isDev bool) *Handler {
	return &Handler{svc: svc, allowedOrigin: allowedOrigin, isDev: isDev}
}

// inbound is a client frame.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// outbound is a server frame. Type is "turn" for a processed turn and
// "error" otherwise.
type outbound struct {
	Type  string              `json:"type"`
	Turn  *session.TurnResult `json:"turn,omitempty"`
	Error string              `json:"error,omitempty"`
	Retry bool                `json:"retry,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	slog.Info("WebSocket chat connected", "session_id", sessionID, "ip", r.RemoteAddr)

	ctx := r.Context()
	for {
		var msg inbound
		if err := readJSON(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return
			}
			slog.Debug("WebSocket read error", "error", err, "session_id", sessionID)
			return
		}
		if msg.Type != "message" {
			h.writeError(ctx, ws, "unknown frame type", false)
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
		result, err := h.svc.ProcessTurn(turnCtx, sessionID, msg.Content)
		cancel()
		if err != nil {
			h.writeError(ctx, ws, turnErrorMessage(err), isRetryable(err))
			if errors.Is(err, session.ErrNotFound) {
				return
			}
			continue
		}

		if err := writeJSON(ctx, ws, outbound{Type: "turn", Turn: &result}); err != nil {
			slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) writeError(ctx context.Context, ws *websocket.Conn, msg string, retry bool) {
	if err := writeJSON(ctx, ws, outbound{Type: "error", Error: msg, Retry: retry}); err != nil {
		slog.Debug("WebSocket error-frame write failed", "error", err)
	}
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return "message cannot be empty"
	case errors.Is(err, session.ErrSessionCompleted):
		return "session already completed"
	case errors.Is(err, session.ErrNotFound):
		return "session not found"
	case errors.Is(err, matcher.ErrNoConfidentMatch):
		return "question not recognized, please rephrase or pick one from the list"
	case errors.Is(err, oracle.ErrUnavailable):
		return "assistant is unavailable, please retry"
	default:
		return "failed to process message"
	}
}

// isRetryable reports whether resending the same message may succeed.
func isRetryable(err error) bool {
	return errors.Is(err, oracle.ErrUnavailable)
}

func readJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// checkOrigin mirrors browser-origin validation for the upgrade
// request. Development allows any origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.allowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, allowed.Host)
}
