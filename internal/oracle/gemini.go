package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ashureev/survey-chatbot/internal/domain"
)

// GeminiOracle answers questions using Google's Gemini API.
type GeminiOracle struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini-backed oracle. The timeout bounds each
// model round trip; zero means 30 seconds.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}

	return &GeminiOracle{client: client, model: model, timeout: timeout}, nil
}

// Answer asks the model for a response shaped by the mode directive.
func (o *GeminiOracle) Answer(ctx context.Context, question, groundTruth string, mode domain.Mode) (string, error) {
	system, err := systemInstruction(groundTruth, mode)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Models.GenerateContent(ctx,
		o.model,
		genai.Text(question),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", ErrUnavailable)
	}
	return text, nil
}
