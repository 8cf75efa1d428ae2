package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/reviewpulse/internal/cluster"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/enrich"
)

// storedExamples is how many member texts each stored topic keeps.
const storedExamples = 3

// NoTopicsNarrative is stored when a window has reviews but no topic of at
// least two members.
const NoTopicsNarrative = "No recurring topics were found in this period."

// AppAnalysis is the outcome of analyzing one app.
type AppAnalysis struct {
	AppID    int64  `json:"app_id"`
	Store    string `json:"store"`
	Reviews  int    `json:"reviews"`
	Clusters int    `json:"clusters"`
	Skipped  bool   `json:"skipped,omitempty"`
	Err      string `json:"error,omitempty"`
}

// AnalysisReport is the outcome of one analysis run.
type AnalysisReport struct {
	RunID     string        `json:"run_id"`
	Window    string        `json:"window"`
	DateKey   string        `json:"date_key"`
	Apps      []AppAnalysis `json:"apps"`
	Summaries int           `json:"summaries"`
	Failed    int           `json:"failed"`
}

// Topic is one stored entry of a summary's topics JSON.
type Topic struct {
	Topic     string             `json:"topic"`
	Keywords  []string           `json:"keywords"`
	Count     int                `json:"count"`
	Sentiment string             `json:"sentiment"`
	Examples  []string           `json:"examples"`
	AISummary *enrich.Annotation `json:"ai_summary,omitempty"`
}

// Analyze clusters and enriches each app's reviews inside the named window
// (the configured default when empty) and stores one summary per app for
// today. Apps with no reviews in the window are skipped.
func (p *Pipeline) Analyze(ctx context.Context, windowName string) (*AnalysisReport, error) {
	win, err := p.cfg.Window(windowName)
	if err != nil {
		return nil, err
	}
	apps, err := p.apps()
	if err != nil {
		return nil, err
	}

	ctx, run := p.startRun(ctx, database.RunAnalyze)
	defer p.finishRun(ctx, run)

	now := p.now()
	rep := &AnalysisReport{RunID: run.RunID, Window: win.Label, DateKey: database.DateKey(now)}
	since := now.AddDate(0, 0, -win.Days)

	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := p.analyzeApp(ctx, app, win.Label, since, win.Limit, rep.DateKey)
		rep.Apps = append(rep.Apps, res)
		run.AppsProcessed++
		switch {
		case res.Err != "":
			rep.Failed++
			run.AppsFailed++
		case !res.Skipped:
			rep.Summaries++
			run.SummariesWritten++
		}
	}
	return rep, nil
}

func (p *Pipeline) analyzeApp(ctx context.Context, app database.App, label string, since time.Time, limit int, dateKey string) AppAnalysis {
	res := AppAnalysis{AppID: app.ID, Store: app.Store}
	l := zerolog.Ctx(ctx).With().Str("store", app.Store).Int64("app_id", app.ID).Logger()
	fail := func(err error, msg string) AppAnalysis {
		l.Error().Err(err).Msg(msg)
		res.Err = err.Error()
		return res
	}

	release, err := p.deps.Locker.Acquire(ctx, lockKey(app))
	if err != nil {
		return fail(err, "skipping app")
	}
	defer release()

	appID := app.ID
	reviews, err := p.db.ReviewsSince(database.ReviewQuery{AppID: &appID, Since: since, Limit: limit})
	if err != nil {
		return fail(err, "loading reviews")
	}
	res.Reviews = len(reviews)
	if len(reviews) == 0 {
		l.Info().Msg("no reviews in window")
		res.Skipped = true
		return res
	}

	items := make([]cluster.Item, len(reviews))
	for i, r := range reviews {
		items[i] = cluster.Item{ID: r.ReviewID, Text: r.Text, Rating: r.Rating}
	}
	clusters := cluster.Run(items)
	res.Clusters = len(clusters)
	l.Info().Int("reviews", len(reviews)).Int("clusters", len(clusters)).Msg("clustered reviews")

	enriched, err := p.enrichAll(ctx, clusters)
	if err != nil {
		return fail(err, "enrichment interrupted")
	}

	narrative := NoTopicsNarrative
	if len(enriched) > 0 {
		digests := make([]enrich.TopicDigest, len(enriched))
		for i, c := range enriched {
			digests[i] = enrich.Digest(c)
		}
		if !p.sleep(ctx, p.cfg.Enrichment.CallDelay) {
			return fail(ctx.Err(), "enrichment interrupted")
		}
		narrative = p.deps.Enricher.Rollup(ctx, digests, label)
	}

	topicsJSON, err := json.Marshal(topics(enriched))
	if err != nil {
		return fail(err, "encoding topics")
	}
	err = p.db.UpsertSummary(database.Summary{
		Store:       app.Store,
		AppID:       app.ID,
		DateKey:     dateKey,
		Window:      label,
		TopicsJSON:  string(topicsJSON),
		Narrative:   narrative,
		ReviewCount: len(reviews),
	})
	if err != nil {
		return fail(fmt.Errorf("saving summary: %w", err), "saving summary")
	}
	return res
}

// enrichAll annotates clusters one at a time, waiting the configured delay
// between calls.
func (p *Pipeline) enrichAll(ctx context.Context, clusters []cluster.Cluster) ([]enrich.EnrichedCluster, error) {
	out := make([]enrich.EnrichedCluster, 0, len(clusters))
	for i, c := range clusters {
		if i > 0 && !p.sleep(ctx, p.cfg.Enrichment.CallDelay) {
			return nil, ctx.Err()
		}
		samples := c.Reviews
		if len(samples) > enrich.MaxSamples {
			samples = samples[:enrich.MaxSamples]
		}
		a := p.deps.Enricher.SummarizeCluster(ctx, samples)
		out = append(out, enrich.EnrichedCluster{Cluster: c, Annotation: &a})
	}
	return out, nil
}

func topics(enriched []enrich.EnrichedCluster) []Topic {
	out := make([]Topic, 0, len(enriched))
	for _, c := range enriched {
		examples := c.Reviews
		if len(examples) > storedExamples {
			examples = examples[:storedExamples]
		}
		out = append(out, Topic{
			Topic:     c.Topic,
			Keywords:  c.Keywords,
			Count:     c.Count,
			Sentiment: string(c.Sentiment),
			Examples:  examples,
			AISummary: c.Annotation,
		})
	}
	return out
}
