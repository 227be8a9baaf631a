//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/identity"
	"github.com/ashureev/survey-chatbot/internal/session"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

// fakeService implements SessionService with canned behavior.
type fakeService struct {
	session *domain.Session
	result  session.TurnResult
	turnErr error
}

func (f *fakeService) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	if f.session == nil || f.session.SessionID != sessionID {
		return nil, session.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeService) Create(context.Context) (*domain.Session, error) {
	return f.session, nil
}

func (f *fakeService) ProcessTurn(_ context.Context, sessionID, userText string) (session.TurnResult, error) {
	if f.turnErr != nil {
		return session.TurnResult{}, f.turnErr
	}
	if userText == "" {
		return session.TurnResult{}, session.ErrEmptyInput
	}
	return f.result, nil
}

func fakeSession() *domain.Session {
	return &domain.Session{
		SessionID: "11111111-2222-3333-4444-555555555555",
		Turn:      2,
		Schedule:  []domain.Mode{domain.ModeTruth, domain.ModeLie},
		Bank: &domain.Bank{Questions: []*domain.Question{
			{ID: "history_q1", Text: "first president", GroundTruth: "George Washington"},
			{ID: "science_q1", Text: "symbol for gold", GroundTruth: "Au"},
		}},
		UsedQuestionIDs: map[string]struct{}{"history_q1": {}},
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "who was the first president?"},
			{Role: domain.RoleAssistant, Content: "George Washington."},
		},
	}
}

func serveWithSession(t *testing.T, h *Handler, svc *fakeService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(identity.Middleware(svc, true))
	h.RegisterRoutes(r)

	req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: svc.session.SessionID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	svc := &fakeService{session: fakeSession()}
	w := serveWithSession(t, NewHandler(svc, true), svc,
		httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != svc.session.SessionID || got.Turn != 2 || got.TotalTurns != 2 {
		t.Errorf("unexpected session response: %+v", got)
	}
}

func TestListQuestionsMarksUsed(t *testing.T) {
	t.Parallel()

	svc := &fakeService{session: fakeSession()}
	w := serveWithSession(t, NewHandler(svc, true), svc,
		httptest.NewRequest(http.MethodGet, "/api/questions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Questions []questionEntry `json:"questions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	if !got.Questions[0].Used || got.Questions[1].Used {
		t.Errorf("used flags wrong: %+v", got.Questions)
	}
	// Ground truths must never reach the client.
	if strings.Contains(w.Body.String(), "Washington") {
		t.Error("response leaked a ground truth")
	}
}

func TestChatReturnsTurnResult(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		session: fakeSession(),
		result: session.TurnResult{
			AssistantText:     "George Washington.",
			MatchedQuestionID: "history_q1",
			Mode:              domain.ModeTruth,
			Turn:              2,
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "who was the first president?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serveWithSession(t, NewHandler(svc, true), svc, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got session.TurnResult
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MatchedQuestionID != "history_q1" || got.AssistantText == "" {
		t.Errorf("unexpected turn result: %+v", got)
	}
}

func TestChatErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty input", session.ErrEmptyInput, http.StatusBadRequest},
		{"completed", session.ErrSessionCompleted, http.StatusConflict},
		{"not found", session.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{session: fakeSession(), turnErr: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/api/chat",
				strings.NewReader(`{"message": "hello"}`))
			w := serveWithSession(t, NewHandler(svc, true), svc, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestChatInvalidBody(t *testing.T) {
	t.Parallel()

	svc := &fakeService{session: fakeSession()}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	w := serveWithSession(t, NewHandler(svc, true), svc, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
