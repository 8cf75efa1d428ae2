// Package collect fetches raw reviews from the storefronts.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/normalize"
	"github.com/TobiSchelling/reviewpulse/internal/retry"
)

// AnonymousAuthor replaces a missing author name.
const AnonymousAuthor = "익명"

// RawReview is a review exactly as a storefront returned it.
type RawReview = normalize.Raw

// ErrEmptyPage signals that a page-based source has no more entries.
var ErrEmptyPage = errors.New("empty page")

// Source fetches the raw reviews for one listing.
type Source interface {
	Store() string
	Fetch(ctx context.Context, externalID string) ([]RawReview, error)
}

// FallbackDate synthesizes a creation time for an undated review: one day
// earlier for every position in fetch order. The result is an ordering aid,
// not a real review time.
func FallbackDate(now time.Time, page, index, pageSize int) time.Time {
	daysAgo := (page-1)*pageSize + index
	return now.AddDate(0, 0, -daysAgo)
}

// FetchResult is the validated output of one fetch.
type FetchResult struct {
	Reviews []normalize.Review
	Report  normalize.Report
}

// Collector runs sources under a retry policy and validates what they return.
type Collector struct {
	sources map[string]Source
	policy  retry.Policy
}

// NewCollector creates a collector for the given sources, keyed by Store().
func NewCollector(policy retry.Policy, sources ...Source) *Collector {
	c := &Collector{sources: make(map[string]Source), policy: policy}
	for _, s := range sources {
		c.sources[s.Store()] = s
	}
	return c
}

// FetchValidated fetches an app's reviews with retries and validates them.
// Validation happens on the success path, so the report only ever describes
// one complete fetch.
func (c *Collector) FetchValidated(ctx context.Context, app database.App) (*FetchResult, error) {
	src, ok := c.sources[app.Store]
	if !ok {
		return nil, fmt.Errorf("no source for store %q", app.Store)
	}

	name := fmt.Sprintf("fetch %s/%s", app.Store, app.ExternalID)
	return retry.Do(ctx, c.policy, name, func(ctx context.Context) (*FetchResult, error) {
		raws, err := src.Fetch(ctx, app.ExternalID)
		if err != nil {
			return nil, err
		}
		reviews, rep := normalize.Batch(raws)
		log.Info().
			Str("store", app.Store).
			Str("app", app.ExternalID).
			Int("raw", rep.Raw).
			Int("usable", rep.Usable).
			Msg("fetched reviews")
		return &FetchResult{Reviews: reviews, Report: rep}, nil
	})
}
