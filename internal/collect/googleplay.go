package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/database"
)

// GooglePlayConfig configures the review-listing endpoint. BaseURL points at
// a scraper proxy that returns Play Store reviews as JSON.
type GooglePlayConfig struct {
	BaseURL string
	Count   int
	Lang    string
	Country string
	RPS     float64
}

// GooglePlaySource requests up to Count reviews in one call for a fixed locale.
type GooglePlaySource struct {
	cfg   GooglePlayConfig
	fetch *fetcher
	now   func() time.Time
}

// NewGooglePlaySource creates a count-based source. Zero config values take defaults.
func NewGooglePlaySource(cfg GooglePlayConfig, hc *http.Client) *GooglePlaySource {
	if cfg.Count <= 0 {
		cfg.Count = 500
	}
	if cfg.Lang == "" {
		cfg.Lang = "ko"
	}
	if cfg.Country == "" {
		cfg.Country = "kr"
	}
	return &GooglePlaySource{
		cfg:   cfg,
		fetch: newFetcher("googleplay", hc, cfg.RPS),
		now:   time.Now,
	}
}

func (s *GooglePlaySource) Store() string { return database.StoreAndroid }

type playReview struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Score    int    `json:"score"`
	Text     string `json:"text"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

type playResponse struct {
	Data []playReview `json:"data"`
}

// Fetch returns the newest reviews for a package name.
func (s *GooglePlaySource) Fetch(ctx context.Context, packageName string) ([]RawReview, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("google play endpoint not configured")
	}
	params := url.Values{
		"appId":   {packageName},
		"num":     {strconv.Itoa(s.cfg.Count)},
		"lang":    {s.cfg.Lang},
		"country": {s.cfg.Country},
		"sort":    {"newest"},
	}
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/reviews?" + params.Encode()

	body, err := s.fetch.get(ctx, "reviews", u, "application/json")
	if err != nil {
		return nil, err
	}
	var resp playResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding reviews: %w", err)
	}

	now := s.now()
	country := strings.ToUpper(s.cfg.Country)
	reviews := make([]RawReview, 0, len(resp.Data))
	for i, pr := range resp.Data {
		author := strings.TrimSpace(pr.UserName)
		if author == "" {
			author = AnonymousAuthor
		}
		date, ok := parsePlayDate(pr.Date)
		if !ok {
			date = FallbackDate(now, 1, i, s.cfg.Count)
		}
		reviews = append(reviews, RawReview{
			ID:      pr.ID,
			Author:  author,
			Rating:  pr.Score,
			Text:    htmlText(pr.Text),
			Version: pr.Version,
			Date:    date,
			Country: country,
		})
	}
	return reviews, nil
}

func parsePlayDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
