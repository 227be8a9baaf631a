// Package schedule produces the per-session truth/lie mode sequence.
package schedule

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// Generate returns a uniformly random permutation of exactly n/2 truth
// and n/2 lie modes. Called once per session; the result is retained
// for the session's lifetime and never regenerated per turn.
func Generate(n int, rng *rand.Rand) ([]domain.Mode, error) {
	if n <= 0 {
		return nil, fmt.Errorf("schedule length must be positive, got %d", n)
	}
	if n%2 != 0 {
		return nil, fmt.Errorf("schedule length must be even, got %d", n)
	}

	modes := make([]domain.Mode, n)
	for i := 0; i < n/2; i++ {
		modes[i] = domain.ModeTruth
	}
	for i := n / 2; i < n; i++ {
		modes[i] = domain.ModeLie
	}
	rng.Shuffle(n, func(i, j int) {
		modes[i], modes[j] = modes[j], modes[i]
	})
	return modes, nil
}

// ModeAt returns the mode for a 1-indexed turn.
func ModeAt(modes []domain.Mode, turn int) (domain.Mode, error) {
	if turn < 1 || turn > len(modes) {
		return "", fmt.Errorf("turn %d outside schedule of length %d", turn, len(modes))
	}
	return modes[turn-1], nil
}

// Encode serializes a schedule for storage as a comma-joined string.
func Encode(modes []domain.Mode) string {
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

// Decode parses a schedule previously produced by Encode.
func Decode(s string) ([]domain.Mode, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	modes := make([]domain.Mode, len(parts))
	for i, p := range parts {
		m := domain.Mode(p)
		if !m.Valid() {
			return nil, fmt.Errorf("invalid mode %q at position %d", p, i)
		}
		modes[i] = m
	}
	return modes, nil
}
