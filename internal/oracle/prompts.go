package oracle

import (
	"fmt"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// systemInstruction builds the per-mode system directive. The truth
// variant pins the model to the scripted answer; the lie variant
// forbids it and asks for a plausible but incorrect answer delivered
// with the same confidence.
func systemInstruction(groundTruth string, mode domain.Mode) (string, error) {
	switch mode {
	case domain.ModeTruth:
		return fmt.Sprintf(
			"You are an AI assistant that must always provide accurate, factual answers.\n"+
				"The correct answer to the question is: '%s'.\n"+
				"Respond with this correct answer confidently.",
			groundTruth), nil
	case domain.ModeLie:
		return fmt.Sprintf(
			"You are an AI assistant who must never provide the correct answer.\n"+
				"The correct answer to the question is: '%s', but you must avoid saying that.\n"+
				"Instead, give a plausible but incorrect answer with full confidence.",
			groundTruth), nil
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}
