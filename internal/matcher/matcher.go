// Package matcher maps free-text participant input onto the closest
// bank question via embedding similarity.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/survey-chatbot/internal/domain"
	"github.com/ashureev/survey-chatbot/internal/embedding"
)

var (
	// ErrEmptyBank indicates Match was invoked with no questions.
	ErrEmptyBank = errors.New("question bank is empty")

	// ErrNoConfidentMatch indicates the best similarity fell below the
	// configured minimum. Only returned when a threshold is set.
	ErrNoConfidentMatch = errors.New("no question matched with sufficient confidence")
)

// Result is one nearest-neighbor lookup outcome.
type Result struct {
	Question   *domain.Question
	Similarity float64
}

// Matcher performs nearest-neighbor lookups over bank questions.
// Question embeddings are cached by id for the catalog's lifetime, so
// banks sampled from the same catalog share the cache.
type Matcher struct {
	engine embedding.Engine

	// MinSimilarity rejects matches below this cosine similarity.
	// Zero disables rejection: the closest match is always accepted.
	minSimilarity float64

	mu    sync.RWMutex
	cache map[string][]float32
}

// New creates a Matcher backed by the given embedding engine.
func New(engine embedding.Engine, minSimilarity float64) *Matcher {
	return &Matcher{
		engine:        engine,
		minSimilarity: minSimilarity,
		cache:         make(map[string][]float32),
	}
}

// Prime precomputes and caches embeddings for every bank question that
// is not cached yet. Called once at bank build time; Match falls back
// to embedding on demand for any question Prime missed.
func (m *Matcher) Prime(ctx context.Context, bnk *domain.Bank) error {
	var missing []*domain.Question
	m.mu.RLock()
	for _, q := range bnk.Questions {
		if _, ok := m.cache[q.ID]; !ok {
			missing = append(missing, q)
		}
	}
	m.mu.RUnlock()
	if len(missing) == 0 {
		return nil
	}

	texts := make([]string, len(missing))
	for i, q := range missing {
		texts[i] = q.Text
	}
	vecs, err := m.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed bank questions: %w", err)
	}

	m.mu.Lock()
	for i, q := range missing {
		m.cache[q.ID] = vecs[i]
	}
	m.mu.Unlock()

	slog.Info("Primed question embeddings", "engine", m.engine.Name(), "count", len(missing))
	return nil
}

// Match returns the bank question maximizing cosine similarity to the
// free text. Ties break toward the first entry in bank order, which is
// fixed after sampling, so the lookup is deterministic for a given
// bank and embedding function.
func (m *Matcher) Match(ctx context.Context, freeText string, bnk *domain.Bank) (Result, error) {
	if bnk.Len() == 0 {
		return Result{}, ErrEmptyBank
	}

	query, err := m.engine.Embed(ctx, freeText)
	if err != nil {
		return Result{}, fmt.Errorf("embed input: %w", err)
	}

	best := Result{Similarity: -2}
	for _, q := range bnk.Questions {
		vec, err := m.vectorFor(ctx, q)
		if err != nil {
			return Result{}, err
		}
		sim, err := embedding.CosineSimilarity(query, vec)
		if err != nil {
			return Result{}, fmt.Errorf("compare against %q: %w", q.ID, err)
		}
		if sim > best.Similarity {
			best = Result{Question: q, Similarity: sim}
		}
	}

	if m.minSimilarity > 0 && best.Similarity < m.minSimilarity {
		return best, fmt.Errorf("%w: best %.3f below minimum %.3f", ErrNoConfidentMatch, best.Similarity, m.minSimilarity)
	}
	return best, nil
}

func (m *Matcher) vectorFor(ctx context.Context, q *domain.Question) ([]float32, error) {
	m.mu.RLock()
	vec, ok := m.cache[q.ID]
	m.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := m.engine.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed question %q: %w", q.ID, err)
	}
	m.mu.Lock()
	m.cache[q.ID] = vec
	m.mu.Unlock()
	return vec, nil
}
