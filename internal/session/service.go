// Package session owns the per-participant survey state machine: turn
// counting, truth/lie scheduling, question matching, response
// generation, logging, and the completion/export lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/survey-chatbot/internal/bank"
	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/export"
	"github.com/ashureev/survey-chatbot/internal/matcher"
	"github.com/ashureev/survey-chatbot/internal/oracle"
	"github.com/ashureev/survey-chatbot/internal/schedule"
	"github.com/ashureev/survey-chatbot/internal/store"
)

var (
	// ErrNotFound indicates no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyInput indicates a blank user message.
	ErrEmptyInput = errors.New("user message is empty")

	// ErrSessionCompleted indicates the session already processed its
	// final turn. Completed is absorbing: the schedule is never
	// indexed past its end.
	ErrSessionCompleted = errors.New("session already completed")
)

// TurnLogger appends turn records to the durable CSV logs.
type TurnLogger interface {
	Append(rec domain.TurnRecord) error
	SessionPath(sessionID string) string
}

// Config holds session lifecycle parameters.
type Config struct {
	// ScheduleLength is the number of turns per session (even).
	ScheduleLength int
	// QuestionsPerDomain is the bank sample size per topic domain.
	QuestionsPerDomain int
	// ExportFolderID is passed to the exporter (Drive folder id).
	ExportFolderID string
}

// Deps are the collaborators the state machine drives. All are
// constructed at process start and shared read-only across sessions.
type Deps struct {
	Catalog  *bank.Catalog
	Matcher  *matcher.Matcher
	Oracle   oracle.Oracle
	TurnLog  TurnLogger
	Exporter export.Exporter
	Repo     store.Repository
}

// TurnResult is what one processed turn hands back to the
// presentation layer.
type TurnResult struct {
	AssistantText     string           `json:"assistant_text"`
	Messages          []domain.Message `json:"messages"`
	MatchedQuestionID string           `json:"matched_question_id"`
	Mode              domain.Mode      `json:"mode"`
	Turn              int              `json:"turn"`
	Completed         bool             `json:"completed"`
	UploadedLink      string           `json:"uploaded_link,omitempty"`
}

// Service manages live sessions. Each session is mutated by a single
// writer at a time: ProcessTurn holds the session's lock for the full
// call, so no partial state is ever observed.
type Service struct {
	deps Deps
	cfg  Config

	rngMu sync.Mutex
	rng   *rand.Rand

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	mu sync.Mutex
	s  *domain.Session
}

// NewService creates the session service. rng may be nil, in which
// case a time-seeded source is used; tests inject a fixed seed.
func NewService(deps Deps, cfg Config, rng *rand.Rand) (*Service, error) {
	if cfg.ScheduleLength <= 0 || cfg.ScheduleLength%2 != 0 {
		return nil, fmt.Errorf("schedule length must be positive and even, got %d", cfg.ScheduleLength)
	}
	if cfg.QuestionsPerDomain <= 0 {
		return nil, fmt.Errorf("questions per domain must be positive, got %d", cfg.QuestionsPerDomain)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		deps: deps,
		cfg:  cfg,
		rng:  rng,
		live: make(map[string]*liveSession),
	}, nil
}

// Create starts a new session: samples a question bank, generates the
// truth/lie schedule, and persists the initial snapshot.
func (svc *Service) Create(ctx context.Context) (*domain.Session, error) {
	svc.rngMu.Lock()
	bnk, err := svc.deps.Catalog.Build(svc.cfg.QuestionsPerDomain, svc.rng)
	if err != nil {
		svc.rngMu.Unlock()
		return nil, fmt.Errorf("build question bank: %w", err)
	}
	modes, err := schedule.Generate(svc.cfg.ScheduleLength, svc.rng)
	svc.rngMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("generate schedule: %w", err)
	}

	// Warm the embedding cache for the sampled bank. A failure here is
	// not fatal: Match embeds uncached questions on demand.
	if err := svc.deps.Matcher.Prime(ctx, bnk); err != nil {
		slog.Warn("Failed to prime bank embeddings", "error", err)
	}

	now := time.Now()
	s := &domain.Session{
		SessionID:       uuid.NewString(),
		Turn:            1,
		UsedQuestionIDs: make(map[string]struct{}),
		Schedule:        modes,
		Bank:            bnk,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := svc.deps.Repo.UpsertSession(ctx, snapshot(s)); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	svc.mu.Lock()
	svc.live[s.SessionID] = &liveSession{s: s}
	svc.mu.Unlock()

	slog.Info("Session created", "session_id", s.SessionID,
		"bank_size", bnk.Len(), "schedule_length", len(modes))
	return s, nil
}

// Get returns a read-only copy of a live session, rehydrating it from
// the repository if the process restarted since it was created. The
// copy keeps readers safe from a concurrent ProcessTurn; the bank and
// schedule are shared because they never change after creation.
func (svc *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	ls, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	s := ls.s
	used := make(map[string]struct{}, len(s.UsedQuestionIDs))
	for id := range s.UsedQuestionIDs {
		used[id] = struct{}{}
	}
	cp := *s
	cp.Messages = append([]domain.Message(nil), s.Messages...)
	cp.UsedQuestionIDs = used
	return &cp, nil
}

func (svc *Service) lookup(ctx context.Context, sessionID string) (*liveSession, error) {
	svc.mu.Lock()
	ls, ok := svc.live[sessionID]
	svc.mu.Unlock()
	if ok {
		return ls, nil
	}

	snap, err := svc.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if snap == nil {
		return nil, ErrNotFound
	}
	s, err := svc.rehydrate(snap)
	if err != nil {
		return nil, err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if existing, ok := svc.live[sessionID]; ok {
		return existing, nil
	}
	ls = &liveSession{s: s}
	svc.live[sessionID] = ls
	return ls, nil
}

func (svc *Service) rehydrate(snap *store.SessionSnapshot) (*domain.Session, error) {
	modes, err := schedule.Decode(snap.Schedule)
	if err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	questions := make([]*domain.Question, 0, len(snap.BankIDs))
	for _, id := range snap.BankIDs {
		q, ok := svc.deps.Catalog.ByID(id)
		if !ok {
			return nil, fmt.Errorf("session %s references unknown question %q", snap.SessionID, id)
		}
		questions = append(questions, q)
	}

	used := make(map[string]struct{}, len(snap.UsedQuestionIDs))
	for _, id := range snap.UsedQuestionIDs {
		used[id] = struct{}{}
	}

	return &domain.Session{
		SessionID:       snap.SessionID,
		Turn:            snap.Turn,
		Messages:        snap.Messages,
		UsedQuestionIDs: used,
		Schedule:        modes,
		Bank:            &domain.Bank{Questions: questions},
		Completed:       snap.Completed,
		Uploaded:        snap.Uploaded,
		ShareLink:       snap.ShareLink,
		CreatedAt:       time.Unix(snap.CreatedAt, 0),
		UpdatedAt:       time.Unix(snap.UpdatedAt, 0),
	}, nil
}

// ProcessTurn runs one full user-message/assistant-response exchange.
//
// Collaborator failures propagate immediately and later steps do not
// execute. An oracle failure leaves the user message appended and the
// turn counter untouched, so the caller may retry the same message; a
// log failure is surfaced after the response already entered the chat
// history, which is not rolled back.
func (svc *Service) ProcessTurn(ctx context.Context, sessionID, userText string) (TurnResult, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return TurnResult{}, ErrEmptyInput
	}

	ls, err := svc.lookup(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	s := ls.s

	if s.Completed {
		return TurnResult{}, ErrSessionCompleted
	}

	mode, err := schedule.ModeAt(s.Schedule, s.Turn)
	if err != nil {
		return TurnResult{}, fmt.Errorf("schedule lookup: %w", err)
	}

	matched, err := svc.deps.Matcher.Match(ctx, userText, s.Bank)
	if err != nil {
		return TurnResult{}, err
	}
	s.MarkUsed(matched.Question.ID)

	s.AppendMessage(domain.RoleUser, userText)

	answer, err := svc.deps.Oracle.Answer(ctx, matched.Question.Text, matched.Question.GroundTruth, mode)
	if err != nil {
		return TurnResult{}, err
	}
	s.AppendMessage(domain.RoleAssistant, answer)

	rec := domain.TurnRecord{
		Timestamp:         time.Now(),
		SessionID:         s.SessionID,
		Turn:              s.Turn,
		UserInput:         userText,
		Response:          answer,
		Mode:              mode,
		MatchedQuestionID: matched.Question.ID,
	}
	if err := svc.deps.TurnLog.Append(rec); err != nil {
		return TurnResult{}, fmt.Errorf("write turn log: %w", err)
	}
	if err := svc.deps.Repo.AppendTurnRecord(ctx, rec); err != nil {
		return TurnResult{}, fmt.Errorf("record turn: %w", err)
	}

	final := s.Turn >= len(s.Schedule)
	if final && !s.Uploaded {
		link, err := svc.deps.Exporter.Export(ctx,
			svc.deps.TurnLog.SessionPath(s.SessionID),
			s.SessionID+".csv",
			svc.cfg.ExportFolderID,
		)
		if err != nil {
			return TurnResult{}, fmt.Errorf("export session log: %w", err)
		}
		s.Uploaded = true
		s.ShareLink = link
		slog.Info("Session log exported", "session_id", s.SessionID, "link", link)
	}
	if final && !s.Completed {
		s.Completed = true
		s.AppendMessage(domain.RoleAssistant, completionMessage(s.SessionID))
	}

	s.Turn++
	s.UpdatedAt = time.Now()

	// Snapshot persistence is durability for restarts, not part of the
	// turn contract; a failure here must not undo a turn the
	// participant already saw.
	if err := svc.deps.Repo.UpsertSession(ctx, snapshot(s)); err != nil {
		slog.Error("Failed to persist session snapshot", "session_id", s.SessionID, "error", err)
	}

	return TurnResult{
		AssistantText:     answer,
		Messages:          append([]domain.Message(nil), s.Messages...),
		MatchedQuestionID: matched.Question.ID,
		Mode:              mode,
		Turn:              rec.Turn,
		Completed:         s.Completed,
		UploadedLink:      s.ShareLink,
	}, nil
}

func completionMessage(sessionID string) string {
	return fmt.Sprintf(
		"The survey is now complete. Your session ID is %s. Please copy it into the survey form. Thank you for participating!",
		sessionID)
}

func snapshot(s *domain.Session) *store.SessionSnapshot {
	return &store.SessionSnapshot{
		SessionID:       s.SessionID,
		Turn:            s.Turn,
		Messages:        append([]domain.Message(nil), s.Messages...),
		UsedQuestionIDs: s.UsedIDs(),
		Schedule:        schedule.Encode(s.Schedule),
		BankIDs:         s.Bank.IDs(),
		Completed:       s.Completed,
		Uploaded:        s.Uploaded,
		ShareLink:       s.ShareLink,
		CreatedAt:       s.CreatedAt.Unix(),
		UpdatedAt:       s.UpdatedAt.Unix(),
	}
}
