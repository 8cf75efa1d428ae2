package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/reviewpulse/internal/observability"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Warn().Str("model", o.Model).Msg("ollama model not found")
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": maxTokens,
			"temperature": 0.3,
		},
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, "ollama", o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.3,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	if err := postJSON(ctx, o.client, "openai", o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return result.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, hc *http.Client, service, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		observability.ObserveExternal(service, "generate", 0, time.Since(start))
		return fmt.Errorf("%s API error: %w", service, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal(service, "generate", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API returned %d: %s", service, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Settings selects and configures a provider.
type Settings struct {
	Provider     string // gemini | openai | ollama
	GeminiModel  string
	GeminiKeyEnv string
	OpenAIModel  string
	OpenAIKeyEnv string
	OllamaModel  string
	OllamaURL    string
}

// CreateProvider returns the configured provider, falling back through
// gemini, then openai, when the preferred one is unavailable. Returns nil
// when nothing is usable.
func CreateProvider(ctx context.Context, s Settings) Provider {
	switch strings.ToLower(s.Provider) {
	case "ollama":
		p := NewOllamaProvider(s.OllamaModel, s.OllamaURL)
		if p.IsConfigured() {
			log.Info().Str("provider", "ollama").Str("model", s.OllamaModel).Msg("using LLM provider")
			return p
		}
		log.Warn().Msg("ollama not available, trying other providers")
	case "openai":
		p := NewOpenAIProvider(s.OpenAIModel, s.OpenAIKeyEnv)
		if p.IsConfigured() {
			log.Info().Str("provider", "openai").Str("model", s.OpenAIModel).Msg("using LLM provider")
			return p
		}
		log.Warn().Msg("openai key not set, trying other providers")
	}

	g, err := NewGeminiProvider(ctx, s.GeminiModel, os.Getenv(s.GeminiKeyEnv))
	if err == nil {
		log.Info().Str("provider", "gemini").Str("model", g.Model).Msg("using LLM provider")
		return g
	}
	log.Debug().Err(err).Msg("gemini unavailable")

	p := NewOpenAIProvider(s.OpenAIModel, s.OpenAIKeyEnv)
	if p.IsConfigured() {
		log.Info().Str("provider", "openai").Str("model", s.OpenAIModel).Msg("using LLM provider")
		return p
	}

	log.Warn().Msgf("no LLM provider available; set %s or %s", s.GeminiKeyEnv, s.OpenAIKeyEnv)
	return nil
}
