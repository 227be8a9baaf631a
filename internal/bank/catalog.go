// Package bank loads per-domain question sources and samples
// session-scoped question banks from them.
package bank

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// sourceRecord is the on-disk shape of one question entry. Every field
// is required; a missing field makes the whole domain load fail.
type sourceRecord struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth"`
}

// Catalog holds all loaded domain question lists. It is built once at
// process start and read-only afterwards; banks sampled from it share
// its question pointers.
type Catalog struct {
	domains map[string][]*domain.Question
	order   []string
	byID    map[string]*domain.Question
}

// Load reads one JSON file per domain from dir (<dir>/<domain>.json),
// validates every record, and qualifies ids as <domain>_<id> so they
// are globally unique across domains.
func Load(dir string, domains []string) (*Catalog, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no question domains configured")
	}

	c := &Catalog{
		domains: make(map[string][]*domain.Question),
		byID:    make(map[string]*domain.Question),
	}
	for _, name := range domains {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		questions, err := loadDomain(filepath.Join(dir, name+".json"), name)
		if err != nil {
			return nil, fmt.Errorf("load domain %q: %w", name, err)
		}
		c.domains[name] = questions
		c.order = append(c.order, name)
		for _, q := range questions {
			c.byID[q.ID] = q
		}
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("no question domains configured")
	}
	return c, nil
}

func loadDomain(path, name string) ([]*domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	var records []sourceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("source has no questions")
	}

	seen := make(map[string]struct{}, len(records))
	questions := make([]*domain.Question, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" || rec.Question == "" || rec.GroundTruth == "" {
			return nil, fmt.Errorf("record %d: missing id, question, or ground_truth", i)
		}
		id := name + "_" + rec.ID
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("record %d: duplicate id %q", i, rec.ID)
		}
		seen[id] = struct{}{}
		questions = append(questions, &domain.Question{
			ID:          id,
			Text:        rec.Question,
			GroundTruth: rec.GroundTruth,
		})
	}
	return questions, nil
}

// ByID resolves a qualified question id. Used to rehydrate persisted
// session banks, which store ids only.
func (c *Catalog) ByID(id string) (*domain.Question, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// Domains returns the loaded domain names in configuration order.
func (c *Catalog) Domains() []string {
	return c.order
}

// All returns every catalog question across all domains.
func (c *Catalog) All() []*domain.Question {
	var all []*domain.Question
	for _, name := range c.order {
		all = append(all, c.domains[name]...)
	}
	return all
}

// Build samples a session bank: for each domain, shuffle that domain's
// questions and take the first perDomain, then shuffle the
// concatenation so domains are interleaved. The returned bank is
// immutable for the session's lifetime.
func (c *Catalog) Build(perDomain int, rng *rand.Rand) (*domain.Bank, error) {
	if perDomain <= 0 {
		return nil, fmt.Errorf("questions per domain must be positive, got %d", perDomain)
	}

	var picked []*domain.Question
	for _, name := range c.order {
		pool := c.domains[name]
		if len(pool) < perDomain {
			return nil, fmt.Errorf("domain %q has %d questions, need %d", name, len(pool), perDomain)
		}
		shuffled := make([]*domain.Question, len(pool))
		copy(shuffled, pool)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		picked = append(picked, shuffled[:perDomain]...)
	}

	rng.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return &domain.Bank{Questions: picked}, nil
}
