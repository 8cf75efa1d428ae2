package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/reviewpulse/internal/collect"
	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/enrich"
	"github.com/TobiSchelling/reviewpulse/internal/llm"
	"github.com/TobiSchelling/reviewpulse/internal/observability"
	"github.com/TobiSchelling/reviewpulse/internal/retry"
	"github.com/TobiSchelling/reviewpulse/internal/runlock"
)

// Deps are the collaborators a pipeline drives.
type Deps struct {
	Collector *collect.Collector
	Enricher  enrich.Enricher
	Locker    runlock.Locker
}

// Pipeline orchestrates the ingestion and analysis runs.
type Pipeline struct {
	cfg  *config.Config
	db   *database.DB
	deps Deps

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool
	closers []io.Closer
}

// New creates a pipeline wired from config: storefront sources, the
// enrichment provider, and the run lock.
func New(ctx context.Context, cfg *config.Config, db *database.DB) *Pipeline {
	hc := &http.Client{Timeout: 30 * time.Second}
	as := cfg.Sources.AppStore
	gp := cfg.Sources.GooglePlay
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     retry.Exponential(cfg.Retry.BaseDelay),
	}
	collector := collect.NewCollector(policy,
		collect.NewAppStoreSource(collect.AppStoreConfig{
			BaseURL:     as.BaseURL,
			Countries:   as.Countries,
			Pages:       as.Pages,
			MinCoverage: as.MinCoverage,
			RPS:         as.RPS,
		}, hc),
		collect.NewGooglePlaySource(collect.GooglePlayConfig{
			BaseURL: gp.BaseURL,
			Count:   gp.Count,
			Lang:    gp.Lang,
			Country: gp.Country,
			RPS:     gp.RPS,
		}, hc),
	)

	e := cfg.Enrichment
	provider := llm.CreateProvider(ctx, llm.Settings{
		Provider:     e.Provider,
		GeminiModel:  e.Model,
		GeminiKeyEnv: e.APIKeyEnv,
		OpenAIModel:  e.OpenAIModel,
		OpenAIKeyEnv: e.OpenAIKeyEnv,
		OllamaModel:  e.OllamaModel,
		OllamaURL:    e.OllamaURL,
	})
	enricher := enrich.NewClient(provider, enrich.Options{
		Language:  e.Language,
		MaxTokens: e.MaxTokens,
		Policy: retry.Policy{
			MaxAttempts: e.MaxAttempts,
			Backoff:     retry.Exponential(cfg.Retry.BaseDelay),
		},
	})

	locker := runlock.New(cfg.Redis.Addr, cfg.Redis.LockTTL)

	p := NewWithDeps(cfg, db, Deps{Collector: collector, Enricher: enricher, Locker: locker})
	for _, v := range []any{provider, locker} {
		if c, ok := v.(io.Closer); ok {
			p.closers = append(p.closers, c)
		}
	}
	return p
}

// NewWithDeps creates a pipeline around explicit collaborators. A nil
// Locker gets an in-process one.
func NewWithDeps(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	if deps.Locker == nil {
		deps.Locker = runlock.NewLocal()
	}
	return &Pipeline{
		cfg:   cfg,
		db:    db,
		deps:  deps,
		now:   time.Now,
		sleep: retry.SleepCtx,
	}
}

// DB returns the store the pipeline writes to.
func (p *Pipeline) DB() *database.DB { return p.db }

// Close releases clients opened by New.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// RefreshReport combines one ingestion and one analysis run.
type RefreshReport struct {
	Ingest   *IngestReport   `json:"ingest"`
	Analysis *AnalysisReport `json:"analysis"`
}

// Refresh runs ingestion and then analysis with the default window.
func (p *Pipeline) Refresh(ctx context.Context) (*RefreshReport, error) {
	start := p.now()
	ing, err := p.Ingest(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	an, err := p.Analyze(ctx, "")
	if err != nil {
		return &RefreshReport{Ingest: ing}, fmt.Errorf("analyze: %w", err)
	}
	observability.ObserveRun(database.RunRefresh, p.now().Sub(start))
	return &RefreshReport{Ingest: ing, Analysis: an}, nil
}

// apps returns the registered apps, failing when there are none.
func (p *Pipeline) apps() ([]database.App, error) {
	apps, err := p.db.ListApps()
	if err != nil {
		return nil, fmt.Errorf("listing apps: %w", err)
	}
	if len(apps) == 0 {
		return nil, fmt.Errorf("%w: no apps registered; add them under apps: in the config and run 'reviewpulse apps sync'", config.ErrInvalid)
	}
	return apps, nil
}

// startRun attaches a run-scoped logger to ctx.
func (p *Pipeline) startRun(ctx context.Context, kind string) (context.Context, *database.RunReport) {
	rep := &database.RunReport{RunID: uuid.NewString(), Kind: kind, StartedAt: p.now()}
	l := log.With().Str("run_id", rep.RunID).Str("kind", kind).Logger()
	l.Info().Msg("run started")
	return l.WithContext(ctx), rep
}

func (p *Pipeline) finishRun(ctx context.Context, rep *database.RunReport) {
	rep.FinishedAt = p.now()
	l := zerolog.Ctx(ctx)
	if _, err := p.db.InsertRunReport(*rep); err != nil {
		l.Error().Err(err).Msg("saving run report")
	}
	observability.ObserveRun(rep.Kind, rep.FinishedAt.Sub(rep.StartedAt))
	l.Info().
		Int("apps", rep.AppsProcessed).
		Int("failed", rep.AppsFailed).
		Int("new", rep.ReviewsNew).
		Int("updated", rep.ReviewsUpdated).
		Int("summaries", rep.SummariesWritten).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("run finished")
}

func lockKey(app database.App) string {
	return app.Store + ":" + app.ExternalID
}
