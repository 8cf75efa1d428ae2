package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/reviewpulse/internal/database"
)

const (
	defaultAppStoreURL = "https://itunes.apple.com"
	appStorePageSize   = 50
)

// AppStoreConfig configures the App Store customer-reviews feed.
type AppStoreConfig struct {
	BaseURL     string
	Countries   []string
	Pages       int
	MinCoverage int
	RPS         float64
}

// AppStoreSource reads the paged customer-reviews Atom feed, one locale at a time.
type AppStoreSource struct {
	cfg    AppStoreConfig
	fetch  *fetcher
	parser *gofeed.Parser
	now    func() time.Time
}

// NewAppStoreSource creates a page-based source. Zero config values take defaults.
func NewAppStoreSource(cfg AppStoreConfig, hc *http.Client) *AppStoreSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAppStoreURL
	}
	if len(cfg.Countries) == 0 {
		cfg.Countries = []string{"kr", "us"}
	}
	if cfg.Pages <= 0 {
		cfg.Pages = 5
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = 50
	}
	return &AppStoreSource{
		cfg:    cfg,
		fetch:  newFetcher("appstore", hc, cfg.RPS),
		parser: gofeed.NewParser(),
		now:    time.Now,
	}
}

func (s *AppStoreSource) Store() string { return database.StoreIOS }

// Fetch walks locales in priority order. Within a locale it reads pages until
// one comes back empty or the page budget runs out; once enough reviews have
// been gathered the remaining locales are skipped. A failing locale is logged
// and the next one tried.
func (s *AppStoreSource) Fetch(ctx context.Context, appID string) ([]RawReview, error) {
	var reviews []RawReview
	var errs []error

	for _, country := range s.cfg.Countries {
		n, err := s.fetchLocale(ctx, appID, country, &reviews)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("app", appID).Str("country", country).Msg("app store locale failed")
			errs = append(errs, fmt.Errorf("%s: %w", country, err))
			continue
		}
		log.Debug().Str("app", appID).Str("country", country).Int("reviews", n).Msg("app store locale done")

		if len(reviews) >= s.cfg.MinCoverage {
			break
		}
	}

	if len(reviews) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reviews, nil
}

func (s *AppStoreSource) fetchLocale(ctx context.Context, appID, country string, out *[]RawReview) (int, error) {
	added := 0
	for page := 1; page <= s.cfg.Pages; page++ {
		items, err := s.fetchPage(ctx, appID, country, page)
		if errors.Is(err, ErrEmptyPage) {
			break
		}
		if err != nil {
			return added, fmt.Errorf("page %d: %w", page, err)
		}
		*out = append(*out, items...)
		added += len(items)
	}
	return added, nil
}

func (s *AppStoreSource) pageURL(appID, country string, page int) string {
	return fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=mostrecent/xml",
		strings.TrimRight(s.cfg.BaseURL, "/"), country, page, appID)
}

func (s *AppStoreSource) fetchPage(ctx context.Context, appID, country string, page int) ([]RawReview, error) {
	body, err := s.fetch.get(ctx, "customerreviews", s.pageURL(appID, country, page), "application/atom+xml")
	if err != nil {
		return nil, err
	}
	feed, err := s.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	now := s.now()
	var reviews []RawReview
	for _, item := range feed.Items {
		r, ok := entryToReview(item, country)
		if !ok {
			continue
		}
		if r.Date.IsZero() {
			r.Date = FallbackDate(now, page, len(reviews), appStorePageSize)
		}
		reviews = append(reviews, r)
	}
	if len(reviews) == 0 {
		return nil, ErrEmptyPage
	}
	return reviews, nil
}

// entryToReview maps one feed entry. Entries without a rating (the feed's
// app metadata entry) are skipped.
func entryToReview(item *gofeed.Item, country string) (RawReview, bool) {
	ratingStr := imValue(item, "rating")
	if ratingStr == "" {
		return RawReview{}, false
	}
	rating, _ := strconv.Atoi(strings.TrimSpace(ratingStr))

	author := ""
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = strings.TrimSpace(item.Authors[0].Name)
	}
	if author == "" {
		author = AnonymousAuthor
	}

	text := item.Content
	if text == "" {
		text = item.Description
	}

	r := RawReview{
		ID:      strings.TrimSpace(item.GUID),
		Author:  author,
		Rating:  rating,
		Title:   strings.TrimSpace(item.Title),
		Text:    htmlText(text),
		Version: strings.TrimSpace(imValue(item, "version")),
		Country: strings.ToUpper(country),
	}
	if item.UpdatedParsed != nil {
		r.Date = *item.UpdatedParsed
	} else if item.PublishedParsed != nil {
		r.Date = *item.PublishedParsed
	}
	return r, true
}

func imValue(item *gofeed.Item, name string) string {
	ns, ok := item.Extensions["im"]
	if !ok {
		return ""
	}
	vals := ns[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}
