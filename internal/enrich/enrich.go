// Package enrich attaches model-written annotations to review clusters and
// writes the cross-topic rollup.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/reviewpulse/internal/cluster"
	"github.com/TobiSchelling/reviewpulse/internal/llm"
	"github.com/TobiSchelling/reviewpulse/internal/observability"
	"github.com/TobiSchelling/reviewpulse/internal/retry"
	"github.com/TobiSchelling/reviewpulse/internal/textutil"
)

// MaxSamples is the number of member texts sent per cluster.
const MaxSamples = 5

// Urgency of a topic.
type Urgency string

const (
	Low    Urgency = "low"
	Medium Urgency = "medium"
	High   Urgency = "high"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	return u == Low || u == Medium || u == High
}

// Fixed strings used when the model's answer is missing or unusable.
const (
	FallbackSummary    = "Summary could not be generated."
	FallbackSuggestion = "Further analysis is needed."
	ErrorSummary       = "An error occurred while generating the AI summary."
	ErrorSuggestion    = "Please review these reviews manually."
	FallbackRollup     = "The overall summary could not be generated."
	NoSummary          = "No summary"
)

// Annotation is the model's reading of one cluster. Fallback is true when
// the call or parse failed and every field holds a fixed value. Defaulted
// lists individual fields that were substituted on an otherwise usable answer.
type Annotation struct {
	Summary    string             `json:"summary"`
	Sentiment  textutil.Sentiment `json:"sentiment"`
	Urgency    Urgency            `json:"urgency"`
	Suggestion string             `json:"suggestion"`
	Fallback   bool               `json:"fallback,omitempty"`
	Defaulted  []string           `json:"defaulted,omitempty"`
}

// ErrorAnnotation is returned whenever enrichment fails outright.
func ErrorAnnotation() Annotation {
	return Annotation{
		Summary:    ErrorSummary,
		Sentiment:  textutil.Neutral,
		Urgency:    Medium,
		Suggestion: ErrorSuggestion,
		Fallback:   true,
	}
}

// EnrichedCluster is a cluster with an optional annotation.
type EnrichedCluster struct {
	cluster.Cluster
	Annotation *Annotation `json:"ai_summary,omitempty"`
}

// TopicDigest is the per-topic line fed to the rollup.
type TopicDigest struct {
	Topic     string
	Count     int
	Sentiment string
	Urgency   string
	Summary   string
}

// Digest reduces an enriched cluster for the rollup, preferring the
// annotation's sentiment and urgency when present.
func Digest(c EnrichedCluster) TopicDigest {
	d := TopicDigest{
		Topic:     c.Topic,
		Count:     c.Count,
		Sentiment: string(c.Sentiment),
		Urgency:   string(Medium),
		Summary:   NoSummary,
	}
	if a := c.Annotation; a != nil {
		d.Sentiment = string(a.Sentiment)
		d.Urgency = string(a.Urgency)
		d.Summary = a.Summary
	}
	return d
}

// Enricher annotates clusters and writes rollups. Implementations never
// return errors; failures degrade to fixed fallback values.
type Enricher interface {
	SummarizeCluster(ctx context.Context, samples []string) Annotation
	Rollup(ctx context.Context, topics []TopicDigest, windowLabel string) string
}

// Options configure a Client.
type Options struct {
	Language  string // answer language tag, e.g. "ko"
	MaxTokens int
	Policy    retry.Policy
}

// Client is an Enricher backed by an LLM provider.
type Client struct {
	provider llm.Provider
	opts     Options
}

// NewClient creates an enrichment client. A nil provider makes every call
// return its fallback.
func NewClient(provider llm.Provider, opts Options) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.Once()
	}
	if opts.Language == "" {
		opts.Language = textutil.LangKorean
	}
	return &Client{provider: provider, opts: opts}
}

var _ Enricher = (*Client)(nil)

const clusterPrompt = `Role: customer feedback analyst.
Task: summarize the common points of the review group below in at most 3 lines, classify the overall sentiment (positive/neutral/negative) and urgency (low/medium/high), and propose one improvement.
Write the summary and suggestion in %s.

Reviews:
%s

Respond with ONLY this JSON:
{"summary": "string", "sentiment": "positive|neutral|negative", "urgency": "low|medium|high", "suggestion": "string"}`

const rollupPrompt = `Role: customer service manager.
Task: using the per-topic summaries of app reviews for the period "%s", write an overall summary of the situation in 3-5 sentences.

Per-topic summaries:
%s

Cover:
1. The most frequent issues and the positive feedback
2. The highest-priority improvements
3. The overall customer satisfaction trend

Answer in %s.`

// SummarizeCluster asks the model about up to MaxSamples member texts.
func (c *Client) SummarizeCluster(ctx context.Context, samples []string) Annotation {
	if c.provider == nil {
		observability.ObserveFallback("cluster")
		return ErrorAnnotation()
	}
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}
	var lines []string
	for _, s := range samples {
		lines = append(lines, "- "+s)
	}
	prompt := fmt.Sprintf(clusterPrompt, languageName(c.opts.Language), strings.Join(lines, "\n"))

	text, err := retry.Do(ctx, c.opts.Policy, "summarize cluster", func(ctx context.Context) (string, error) {
		return c.provider.Generate(ctx, prompt, c.opts.MaxTokens)
	})
	if err != nil {
		log.Warn().Err(err).Msg("cluster enrichment failed")
		observability.ObserveFallback("cluster")
		return ErrorAnnotation()
	}

	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		log.Warn().Msg("cluster enrichment returned no JSON object")
		observability.ObserveFallback("cluster")
		return ErrorAnnotation()
	}
	return annotationFrom(parsed)
}

func annotationFrom(m map[string]any) Annotation {
	var a Annotation
	var ok bool

	if a.Summary, ok = llm.StringField(m, "summary"); !ok {
		a.Summary = FallbackSummary
		a.Defaulted = append(a.Defaulted, "summary")
	}
	s, _ := llm.StringField(m, "sentiment")
	a.Sentiment = textutil.Sentiment(strings.ToLower(s))
	if !a.Sentiment.Valid() {
		a.Sentiment = textutil.Neutral
		a.Defaulted = append(a.Defaulted, "sentiment")
	}
	u, _ := llm.StringField(m, "urgency")
	a.Urgency = Urgency(strings.ToLower(u))
	if !a.Urgency.Valid() {
		a.Urgency = Medium
		a.Defaulted = append(a.Defaulted, "urgency")
	}
	if a.Suggestion, ok = llm.StringField(m, "suggestion"); !ok {
		a.Suggestion = FallbackSuggestion
		a.Defaulted = append(a.Defaulted, "suggestion")
	}
	return a
}

// Rollup writes one narrative across all topics. It is a single attempt.
func (c *Client) Rollup(ctx context.Context, topics []TopicDigest, windowLabel string) string {
	if c.provider == nil {
		observability.ObserveFallback("rollup")
		return FallbackRollup
	}
	var lines []string
	for _, t := range topics {
		lines = append(lines, fmt.Sprintf("- %s (%d reviews, %s, %s): %s", t.Topic, t.Count, t.Sentiment, t.Urgency, t.Summary))
	}
	prompt := fmt.Sprintf(rollupPrompt, windowLabel, strings.Join(lines, "\n"), languageName(c.opts.Language))

	text, err := c.provider.Generate(ctx, prompt, c.opts.MaxTokens)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		log.Warn().Err(err).Msg("rollup generation failed")
		observability.ObserveFallback("rollup")
		return FallbackRollup
	}
	return text
}

func languageName(tag string) string {
	switch tag {
	case textutil.LangKorean:
		return "Korean"
	case textutil.LangEnglish:
		return "English"
	default:
		return tag
	}
}
