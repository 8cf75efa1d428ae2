package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/retry"
)

func feedPage(entries ...string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns:im="http://itunes.apple.com/rss" xmlns="http://www.w3.org/2005/Atom" xml:lang="ko">
<id>https://itunes.apple.com/kr/rss/customerreviews/id=1/xml</id>
<title>Reviews</title>
<updated>2026-03-10T00:00:00-07:00</updated>
<entry><id>meta</id><title>The App</title><updated>2026-03-10T00:00:00-07:00</updated></entry>
` + strings.Join(entries, "\n") + `
</feed>`
}

func feedEntry(id string, rating int, text string, dated bool) string {
	updated := ""
	if dated {
		updated = "<updated>2026-03-01T10:00:00-07:00</updated>"
	}
	return fmt.Sprintf(`<entry>
<id>%s</id><title>title %s</title>%s
<content type="text">%s</content>
<im:rating>%d</im:rating><im:version>2.1.0</im:version>
<author><name>user%s</name></author>
</entry>`, id, id, updated, text, rating, id)
}

func newTestAppStore(url string, cfg AppStoreConfig) *AppStoreSource {
	cfg.BaseURL = url
	cfg.RPS = 1000
	s := NewAppStoreSource(cfg, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestAppStoreStopsOnEmptyPageAndSkipsMetaEntry(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		switch {
		case strings.Contains(r.URL.Path, "/kr/") && strings.Contains(r.URL.Path, "page=1/"):
			fmt.Fprint(w, feedPage(
				feedEntry("a1", 5, "배송이 빨라서 좋아요 정말로", true),
				feedEntry("a2", 1, "로그인이 계속 실패합니다 불편", true),
			))
		default:
			fmt.Fprint(w, feedPage())
		}
	}))
	defer srv.Close()

	src := newTestAppStore(srv.URL, AppStoreConfig{Countries: []string{"kr"}, Pages: 5})
	got, err := src.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(got))
	}
	if len(calls) != 2 {
		t.Errorf("expected to stop after the empty second page, got calls %v", calls)
	}
	r := got[0]
	if r.ID != "a1" || r.Rating != 5 || r.Version != "2.1.0" || r.Author != "usera1" || r.Country != "KR" {
		t.Errorf("unexpected mapping %+v", r)
	}
	if r.Date.IsZero() {
		t.Error("expected feed date to be parsed")
	}
	if !strings.Contains(calls[0], "/kr/rss/customerreviews/page=1/id=1/sortby=mostrecent/xml") {
		t.Errorf("unexpected feed path %s", calls[0])
	}
}

func TestAppStoreCoverageShortcutSkipsLaterLocales(t *testing.T) {
	var usCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/us/") {
			atomic.AddInt32(&usCalls, 1)
		}
		fmt.Fprint(w, feedPage(
			feedEntry(r.URL.Path+"-1", 4, "first review text here", true),
			feedEntry(r.URL.Path+"-2", 4, "second review text here", true),
		))
	}))
	defer srv.Close()

	src := newTestAppStore(srv.URL, AppStoreConfig{Countries: []string{"kr", "us"}, Pages: 2, MinCoverage: 3})
	got, err := src.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 reviews from two kr pages, got %d", len(got))
	}
	if usCalls != 0 {
		t.Errorf("expected us locale to be skipped, got %d calls", usCalls)
	}
}

func TestAppStoreFailingLocaleFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/kr/") {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if strings.Contains(r.URL.Path, "page=1/") {
			fmt.Fprint(w, feedPage(feedEntry("u1", 3, "works fine in the us store", true)))
			return
		}
		fmt.Fprint(w, feedPage())
	}))
	defer srv.Close()

	src := newTestAppStore(srv.URL, AppStoreConfig{Countries: []string{"kr", "us"}})
	got, err := src.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("expected us results despite kr failure, got %v", err)
	}
	if len(got) != 1 || got[0].Country != "US" {
		t.Errorf("unexpected reviews %+v", got)
	}
}

func TestAppStoreAllLocalesFailReturnsJoinedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := newTestAppStore(srv.URL, AppStoreConfig{Countries: []string{"kr", "us"}})
	_, err := src.Fetch(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || se.RetryAfter != 7*time.Second {
		t.Errorf("expected wrapped 429 status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "kr:") || !strings.Contains(err.Error(), "us:") {
		t.Errorf("expected both locales in error, got %v", err)
	}
}

func TestAppStoreUndatedEntriesGetDecreasingDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "page=1/"):
			fmt.Fprint(w, feedPage(
				feedEntry("p1a", 4, "undated review number one", false),
				feedEntry("p1b", 4, "undated review number two", false),
			))
		case strings.Contains(r.URL.Path, "page=2/"):
			fmt.Fprint(w, feedPage(feedEntry("p2a", 4, "undated review on page two", false)))
		default:
			fmt.Fprint(w, feedPage())
		}
	}))
	defer srv.Close()

	src := newTestAppStore(srv.URL, AppStoreConfig{Countries: []string{"kr"}})
	got, err := src.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 reviews, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Date.Before(got[i-1].Date) {
			t.Errorf("expected strictly decreasing dates, got %v then %v", got[i-1].Date, got[i].Date)
		}
	}
}

func TestFallbackDate(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := FallbackDate(now, 1, 0, 50); !got.Equal(now) {
		t.Errorf("first entry should be now, got %v", got)
	}
	if got := FallbackDate(now, 2, 3, 50); !got.Equal(now.AddDate(0, 0, -53)) {
		t.Errorf("expected 53 days back, got %v", got)
	}
}

func TestGooglePlayFetch(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"g1","userName":"","score":2,"text":"결제 오류가 <b>자주</b> 발생해요","version":"5.0","date":"2026-03-01T10:00:00.000Z"},
			{"id":"g2","userName":"lee","score":5,"text":"만족합니다 아주 좋아요","date":"garbage"}
		]}`)
	}))
	defer srv.Close()

	src := NewGooglePlaySource(GooglePlayConfig{BaseURL: srv.URL, RPS: 1000}, nil)
	got, err := src.Fetch(context.Background(), "com.example.app")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for _, want := range []string{"appId=com.example.app", "num=500", "lang=ko", "country=kr", "sort=newest"} {
		if !strings.Contains(query, want) {
			t.Errorf("expected %q in query %q", want, query)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(got))
	}
	if got[0].Author != AnonymousAuthor || got[0].Text != "결제 오류가 자주 발생해요" || got[0].Country != "KR" {
		t.Errorf("unexpected mapping %+v", got[0])
	}
	if got[1].Date.IsZero() {
		t.Error("expected fallback date for unparseable date")
	}
}

type fakeSource struct {
	store string
	fails int
	calls int
	raws  []RawReview
}

func (f *fakeSource) Store() string { return f.store }

func (f *fakeSource) Fetch(context.Context, string) ([]RawReview, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("network down")
	}
	return f.raws, nil
}

func noSleepPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) bool { return true }
	return p
}

func TestFetchValidatedRetriesThenValidates(t *testing.T) {
	src := &fakeSource{store: database.StoreIOS, fails: 2, raws: []RawReview{
		{ID: "1", Rating: 5, Text: "long enough review text"},
		{ID: "2", Rating: 9, Text: "rating out of range here"},
		{ID: "3", Rating: 3, Text: "short"},
	}}
	c := NewCollector(noSleepPolicy(), src)

	res, err := c.FetchValidated(context.Background(), database.App{Store: database.StoreIOS, ExternalID: "1"})
	if err != nil {
		t.Fatalf("FetchValidated: %v", err)
	}
	if src.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", src.calls)
	}
	if res.Report.Raw != 3 || res.Report.Usable != 1 || len(res.Reviews) != 1 {
		t.Errorf("unexpected report %+v", res.Report)
	}
}

func TestFetchValidatedExhaustsRetries(t *testing.T) {
	src := &fakeSource{store: database.StoreAndroid, fails: 10}
	c := NewCollector(noSleepPolicy(), src)

	_, err := c.FetchValidated(context.Background(), database.App{Store: database.StoreAndroid, ExternalID: "x"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if src.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", src.calls)
	}
}

func TestFetchValidatedUnknownStore(t *testing.T) {
	c := NewCollector(noSleepPolicy())
	if _, err := c.FetchValidated(context.Background(), database.App{Store: "windows"}); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestHTMLText(t *testing.T) {
	cases := map[string]string{
		"plain   text\nhere":                   "plain text here",
		"<p>Hello<br/>world</p>":               "Hello world",
		"<script>x()</script><b>bold</b> text": "bold text",
		"fish &amp; chips":                     "fish & chips",
	}
	for in, want := range cases {
		if got := htmlText(in); got != want {
			t.Errorf("htmlText(%q) = %q, want %q", in, got, want)
		}
	}
}
