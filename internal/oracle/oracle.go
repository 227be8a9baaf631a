// Package oracle produces language-model answers to survey questions,
// either truthful or deliberately deceptive depending on the per-turn
// mode directive.
package oracle

import (
	"context"
	"errors"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// ErrUnavailable indicates the model backend could not be reached or
// did not return a usable answer. Transient; the caller decides
// whether to retry the turn.
var ErrUnavailable = errors.New("response oracle unavailable")

// Oracle answers a survey question given its scripted correct answer
// and a truth/lie directive. The ground truth is never shown to the
// participant; it only shapes the system instruction.
type Oracle interface {
	Answer(ctx context.Context, question, groundTruth string, mode domain.Mode) (string, error)
}
