package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/TobiSchelling/reviewpulse/internal/observability"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider generates text with the Gemini API.
type GeminiProvider struct {
	Model  string
	client *genai.Client
}

// NewGeminiProvider creates a client with an explicit API key.
func NewGeminiProvider(ctx context.Context, model, apiKey string, opts ...option.ClientOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key not configured")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{Model: model, client: client}, nil
}

func (g *GeminiProvider) IsConfigured() bool { return g.client != nil }

// Close releases the underlying client.
func (g *GeminiProvider) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Generate sends a prompt and concatenates the text parts of the first candidate.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	model := g.client.GenerativeModel(g.Model)
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	model.SetTemperature(0.3)

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	status := 200
	if err != nil {
		status = 0
	}
	observability.ObserveExternal("gemini", "generate", status, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from model")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no text in model response")
	}
	return b.String(), nil
}
