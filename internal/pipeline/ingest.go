package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/normalize"
	"github.com/TobiSchelling/reviewpulse/internal/observability"
)

// AppIngest is the outcome of ingesting one app.
type AppIngest struct {
	AppID      int64                    `json:"app_id"`
	Store      string                   `json:"store"`
	ExternalID string                   `json:"external_id"`
	Fetched    int                      `json:"fetched"`
	Usable     int                      `json:"usable"`
	New        int                      `json:"new"`
	Updated    int                      `json:"updated"`
	SaveErrors int                      `json:"save_errors"`
	Rejected   map[normalize.Reason]int `json:"rejected,omitempty"`
	Err        string                   `json:"error,omitempty"`
}

// IngestReport is the outcome of one ingestion run.
type IngestReport struct {
	RunID   string         `json:"run_id"`
	Apps    []AppIngest    `json:"apps"`
	New     int            `json:"new"`
	Updated int            `json:"updated"`
	Failed  int            `json:"failed"`
	Totals  map[string]int `json:"totals_by_store"`
}

// Ingest fetches, validates, and stores reviews for every registered app.
// A failing app is recorded and the run moves on; only store-level errors
// abort the run.
func (p *Pipeline) Ingest(ctx context.Context) (*IngestReport, error) {
	apps, err := p.apps()
	if err != nil {
		return nil, err
	}

	ctx, run := p.startRun(ctx, database.RunIngest)
	defer p.finishRun(ctx, run)

	rep := &IngestReport{RunID: run.RunID}
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := p.ingestApp(ctx, app)
		rep.Apps = append(rep.Apps, res)
		rep.New += res.New
		rep.Updated += res.Updated
		run.AppsProcessed++
		if res.Err != "" {
			rep.Failed++
			run.AppsFailed++
		}
	}
	run.ReviewsNew = rep.New
	run.ReviewsUpdated = rep.Updated

	totals, err := p.db.CountReviewsByStore()
	if err != nil {
		return rep, fmt.Errorf("counting reviews: %w", err)
	}
	rep.Totals = totals
	zerolog.Ctx(ctx).Info().
		Int("new", rep.New).
		Int("updated", rep.Updated).
		Int("ios_total", totals[database.StoreIOS]).
		Int("android_total", totals[database.StoreAndroid]).
		Msg("ingestion complete")
	return rep, nil
}

func (p *Pipeline) ingestApp(ctx context.Context, app database.App) AppIngest {
	res := AppIngest{AppID: app.ID, Store: app.Store, ExternalID: app.ExternalID}
	l := zerolog.Ctx(ctx).With().Str("store", app.Store).Int64("app_id", app.ID).Logger()

	release, err := p.deps.Locker.Acquire(ctx, lockKey(app))
	if err != nil {
		l.Warn().Err(err).Msg("skipping app")
		res.Err = err.Error()
		return res
	}
	defer release()

	fr, err := p.deps.Collector.FetchValidated(ctx, app)
	if err != nil {
		l.Error().Err(err).Msg("fetch failed")
		res.Err = err.Error()
		return res
	}
	res.Fetched = fr.Report.Raw
	res.Usable = fr.Report.Usable
	if len(fr.Report.Rejected) > 0 {
		res.Rejected = fr.Report.Rejected
	}

	fetchedAt := p.now()
	for _, r := range fr.Reviews {
		up, err := p.db.UpsertReview(app.ID, app.Store, r, fetchedAt)
		if err != nil {
			l.Error().Err(err).Str("review_id", r.ID).Msg("saving review")
			res.SaveErrors++
			continue
		}
		if up.Inserted {
			res.New++
		} else {
			res.Updated++
		}
	}

	observability.ObserveIngest(app.Store, "new", res.New)
	observability.ObserveIngest(app.Store, "updated", res.Updated)
	observability.ObserveIngest(app.Store, "rejected", fr.Report.RejectedTotal())
	observability.ObserveIngest(app.Store, "save_error", res.SaveErrors)

	l.Info().
		Int("new", res.New).
		Int("updated", res.Updated).
		Int("rejected", fr.Report.RejectedTotal()).
		Msg("app ingested")
	return res
}
