package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/survey-chatbot/internal/bank"
	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/matcher"
	"github.com/ashureev/survey-chatbot/internal/store"
	"github.com/ashureev/survey-chatbot/internal/turnlog"
)

// fixedEngine embeds each known text to a distinct one-hot vector, so
// the exact question text always matches its own bank entry.
type fixedEngine struct {
	dims  int
	index map[string]int
}

func newFixedEngine(texts ...string) *fixedEngine {
	idx := make(map[string]int, len(texts))
	for i, t := range texts {
		idx[t] = i
	}
	return &fixedEngine{dims: len(texts), index: idx}
}

func (e *fixedEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	if i, ok := e.index[text]; ok {
		vec[i] = 1
	}
	return vec, nil
}

func (e *fixedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *fixedEngine) Name() string { return "fixed" }

// scriptedOracle echoes the mode and question; fail makes it report
// itself unavailable.
type scriptedOracle struct {
	fail  bool
	calls int
}

func (o *scriptedOracle) Answer(_ context.Context, question, groundTruth string, mode domain.Mode) (string, error) {
	o.calls++
	if o.fail {
		return "", errors.New("oracle unreachable")
	}
	if mode == domain.ModeTruth {
		return "truthfully: " + groundTruth, nil
	}
	return "deceptively not " + groundTruth + " for " + question, nil
}

// recordingExporter counts exports and returns a fixed link.
type recordingExporter struct {
	calls     int
	lastLocal string
}

func (e *recordingExporter) Export(_ context.Context, localPath, remoteName, folderID string) (string, error) {
	e.calls++
	e.lastLocal = localPath
	return "https://drive.example.com/" + remoteName, nil
}

// memRepo is an in-memory store.Repository.
type memRepo struct {
	mu        sync.Mutex
	sessions  map[string]*store.SessionSnapshot
	records   []domain.TurnRecord
	failTurns bool
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*store.SessionSnapshot)}
}

func (r *memRepo) GetSession(_ context.Context, id string) (*store.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (r *memRepo) UpsertSession(_ context.Context, snap *store.SessionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *snap
	r.sessions[snap.SessionID] = &cp
	return nil
}

func (r *memRepo) AppendTurnRecord(_ context.Context, rec domain.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTurns {
		return errors.New("disk full")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

// failingLog rejects every append.
type failingLog struct{ dir string }

func (l failingLog) Append(domain.TurnRecord) error { return errors.New("log volume gone") }

func (l failingLog) SessionPath(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".csv")
}

type fixture struct {
	svc      *Service
	oracle   *scriptedOracle
	exporter *recordingExporter
	repo     *memRepo
	logDir   string
	texts    []string
}

// newFixture wires a service over 2 domains x 2 sampled questions and
// a 4-turn schedule, with every collaborator faked except the real
// turn log writer.
func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	dir := t.TempDir()
	domains := map[string][]string{
		"history": {"first president", "end of world war two"},
		"science": {"chemical symbol gold", "planet count"},
	}
	var texts []string
	for name, qs := range domains {
		var entries []string
		for i, q := range qs {
			entries = append(entries, fmt.Sprintf(
				`{"id": "q%d", "question": "%s", "ground_truth": "answer to %s"}`, i+1, q, q))
			texts = append(texts, q)
		}
		content := "[" + strings.Join(entries, ",") + "]"
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644); err != nil {
			t.Fatalf("write domain: %v", err)
		}
	}

	catalog, err := bank.Load(dir, []string{"history", "science"})
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logDir := t.TempDir()
	logWriter, err := turnlog.NewWriter(turnlog.Config{
		Dir:           logDir,
		AggregatePath: filepath.Join(logDir, "aggregate", "all.csv"),
	})
	if err != nil {
		t.Fatalf("new turn log: %v", err)
	}

	f := &fixture{
		oracle:   &scriptedOracle{},
		exporter: &recordingExporter{},
		repo:     newMemRepo(),
		logDir:   logDir,
		texts:    texts,
	}
	deps := Deps{
		Catalog:  catalog,
		Matcher:  matcher.New(newFixedEngine(texts...), 0),
		Oracle:   f.oracle,
		TurnLog:  logWriter,
		Exporter: f.exporter,
		Repo:     f.repo,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc, err := NewService(deps, Config{
		ScheduleLength:     4,
		QuestionsPerDomain: 2,
		ExportFolderID:     "folder-123",
	}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestCreateSamplesBankAndBalancedSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if s.Bank.Len() != 4 {
		t.Errorf("expected bank of 4, got %d", s.Bank.Len())
	}
	if len(s.Schedule) != 4 {
		t.Fatalf("expected schedule of 4, got %d", len(s.Schedule))
	}
	var truths, lies int
	for _, m := range s.Schedule {
		if m == domain.ModeTruth {
			truths++
		} else {
			lies++
		}
	}
	if truths != 2 || lies != 2 {
		t.Errorf("expected balanced schedule, got %d truth %d lie", truths, lies)
	}
	if s.Turn != 1 {
		t.Errorf("new session should start at turn 1, got %d", s.Turn)
	}
}

func TestProcessTurnAdvancesState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first := s.Bank.Questions[0]
	res, err := f.svc.ProcessTurn(t.Context(), s.SessionID, first.Text)
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if res.MatchedQuestionID != first.ID {
		t.Errorf("expected match %s, got %s", first.ID, res.MatchedQuestionID)
	}
	if res.Mode != s.Schedule[0] {
		t.Errorf("turn 1 should use schedule[0]=%s, got %s", s.Schedule[0], res.Mode)
	}
	if res.Turn != 1 {
		t.Errorf("result should report the processed turn 1, got %d", res.Turn)
	}
	if s.Turn != 2 {
		t.Errorf("turn counter should advance to 2, got %d", s.Turn)
	}
	if !s.HasUsed(first.ID) {
		t.Error("matched question should be marked used")
	}
	if len(s.Messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(s.Messages))
	}
	if s.Messages[0].Role != domain.RoleUser || s.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected message roles: %+v", s.Messages)
	}
	if len(f.repo.records) != 1 {
		t.Fatalf("expected 1 turn record in store, got %d", len(f.repo.records))
	}

	// Per-session CSV and aggregate CSV both got the row.
	for _, path := range []string{
		filepath.Join(f.logDir, s.SessionID+".csv"),
		filepath.Join(f.logDir, "aggregate", "all.csv"),
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.Contains(string(data), first.Text) {
			t.Errorf("%s should contain the user input", path)
		}
	}
}

func TestUsedQuestionsMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	prev := 0
	for turn := 0; turn < 3; turn++ {
		q := s.Bank.Questions[turn%s.Bank.Len()]
		if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, q.Text); err != nil {
			t.Fatalf("turn %d failed: %v", turn+1, err)
		}
		if got := len(s.UsedQuestionIDs); got < prev {
			t.Fatalf("used set shrank: %d -> %d", prev, got)
		} else {
			prev = got
		}
	}
}

func TestSessionCompletesAndExportsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var last TurnResult
	for turn := 0; turn < 4; turn++ {
		q := s.Bank.Questions[turn]
		last, err = f.svc.ProcessTurn(t.Context(), s.SessionID, q.Text)
		if err != nil {
			t.Fatalf("turn %d failed: %v", turn+1, err)
		}
		if turn < 3 && last.Completed {
			t.Fatalf("session completed early at turn %d", turn+1)
		}
	}

	if !last.Completed {
		t.Error("final turn should mark the session completed")
	}
	if !s.Completed || !s.Uploaded {
		t.Errorf("expected completed and uploaded, got %v/%v", s.Completed, s.Uploaded)
	}
	if f.exporter.calls != 1 {
		t.Errorf("export should run exactly once, ran %d times", f.exporter.calls)
	}
	if last.UploadedLink == "" {
		t.Error("final result should carry the share link")
	}

	completions := 0
	for _, m := range s.Messages {
		if strings.Contains(m.Content, s.SessionID) {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("expected exactly one completion message, found %d", completions)
	}

	// Completed is absorbing; the schedule is never indexed past N.
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, s.Bank.Questions[0].Text); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
	if f.exporter.calls != 1 {
		t.Errorf("rejected turn must not re-export, ran %d times", f.exporter.calls)
	}
}

func TestProcessTurnEmptyInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestProcessTurnUnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.svc.ProcessTurn(t.Context(), "missing", "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOracleFailureLeavesTurnRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f.oracle.fail = true
	q := s.Bank.Questions[0]
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, q.Text); err == nil {
		t.Fatal("expected oracle failure to propagate")
	}

	if s.Turn != 1 {
		t.Errorf("turn must not advance on oracle failure, got %d", s.Turn)
	}
	if len(s.Messages) != 1 || s.Messages[0].Role != domain.RoleUser {
		t.Errorf("user message should remain appended, got %+v", s.Messages)
	}
	if len(f.repo.records) != 0 {
		t.Errorf("no turn record should be written, got %d", len(f.repo.records))
	}

	// Retrying the same message succeeds once the oracle recovers.
	f.oracle.fail = false
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, q.Text); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s.Turn != 2 {
		t.Errorf("retry should advance the turn, got %d", s.Turn)
	}
}

func TestLogFailureKeepsConversationState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.TurnLog = failingLog{dir: t.TempDir()}
	})
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	q := s.Bank.Questions[0]
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, q.Text); err == nil {
		t.Fatal("expected log failure to propagate")
	}

	// The response was already produced and shown; it stays in history.
	if len(s.Messages) != 2 {
		t.Fatalf("conversation state should not roll back, got %d messages", len(s.Messages))
	}
	if s.Turn != 1 {
		t.Errorf("turn must not advance past a failed log step, got %d", s.Turn)
	}
}

func TestRehydrateFromRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s, err := f.svc.Create(t.Context())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, s.Bank.Questions[0].Text); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	// Simulate a restart: a fresh service sharing the repository.
	f.svc.mu.Lock()
	delete(f.svc.live, s.SessionID)
	f.svc.mu.Unlock()

	got, err := f.svc.Get(t.Context(), s.SessionID)
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if got.Turn != 2 {
		t.Errorf("rehydrated turn: got %d, want 2", got.Turn)
	}
	if got.Bank.Len() != s.Bank.Len() {
		t.Errorf("rehydrated bank size: got %d, want %d", got.Bank.Len(), s.Bank.Len())
	}
	if len(got.Schedule) != len(s.Schedule) {
		t.Fatalf("rehydrated schedule length: got %d, want %d", len(got.Schedule), len(s.Schedule))
	}
	for i := range s.Schedule {
		if got.Schedule[i] != s.Schedule[i] {
			t.Fatalf("schedule position %d changed after rehydration", i)
		}
	}
	if !got.HasUsed(s.Bank.Questions[0].ID) {
		t.Error("used question ids should survive rehydration")
	}

	// The rehydrated session keeps processing turns.
	if _, err := f.svc.ProcessTurn(t.Context(), s.SessionID, s.Bank.Questions[1].Text); err != nil {
		t.Fatalf("ProcessTurn after rehydration failed: %v", err)
	}
}
