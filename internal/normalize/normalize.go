// Package normalize validates and cleans raw storefront reviews before they
// reach the store.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/textutil"
)

// Field caps, in runes.
const (
	MaxTextLength    = 2000
	MaxAuthorLength  = 50
	MaxTitleLength   = 200
	MaxVersionLength = 50
	MinTextLength    = 10
)

// Raw is a review as a source returned it. Rating is not yet validated and
// Date may be the zero time.
type Raw struct {
	ID      string
	Author  string
	Rating  int
	Title   string
	Text    string
	Version string
	Date    time.Time
	Country string
}

// Review is a Raw that passed validation.
type Review struct {
	ID       string
	Author   string
	Rating   int
	Title    string
	Text     string
	Version  string
	Date     time.Time
	Country  string
	Language string
}

// Reason explains why a review was rejected. The empty Reason means accepted.
type Reason string

const (
	Accepted      Reason = ""
	MissingID     Reason = "missing_id"
	EmptyText     Reason = "empty_text"
	RatingOutside Reason = "rating_out_of_range"
	TooShort      Reason = "too_short"
)

var whitespace = regexp.MustCompile(`\s+`)

// CleanText trims, collapses whitespace runs to one space and caps the result.
func CleanText(s string) string {
	return truncate(whitespace.ReplaceAllString(strings.TrimSpace(s), " "), MaxTextLength)
}

// Validate checks and cleans a single raw review.
func Validate(raw Raw) (Review, Reason) {
	if strings.TrimSpace(raw.ID) == "" {
		return Review{}, MissingID
	}
	if strings.TrimSpace(raw.Text) == "" {
		return Review{}, EmptyText
	}
	if raw.Rating < 1 || raw.Rating > 5 {
		return Review{}, RatingOutside
	}
	text := CleanText(raw.Text)
	if len([]rune(text)) < MinTextLength {
		return Review{}, TooShort
	}
	return Review{
		ID:       raw.ID,
		Author:   truncate(strings.TrimSpace(raw.Author), MaxAuthorLength),
		Rating:   raw.Rating,
		Title:    truncate(strings.TrimSpace(raw.Title), MaxTitleLength),
		Text:     text,
		Version:  truncate(strings.TrimSpace(raw.Version), MaxVersionLength),
		Date:     raw.Date,
		Country:  raw.Country,
		Language: textutil.DetectLanguage(text),
	}, Accepted
}

// Report counts the outcome of validating a batch.
type Report struct {
	Raw      int
	Usable   int
	Rejected map[Reason]int
}

// RejectedTotal sums all rejection reasons.
func (r Report) RejectedTotal() int {
	n := 0
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// Batch validates every raw review, keeping accepted ones in input order.
func Batch(raws []Raw) ([]Review, Report) {
	rep := Report{Raw: len(raws), Rejected: make(map[Reason]int)}
	out := make([]Review, 0, len(raws))
	for _, raw := range raws {
		r, reason := Validate(raw)
		if reason != Accepted {
			rep.Rejected[reason]++
			continue
		}
		out = append(out, r)
	}
	rep.Usable = len(out)
	return out, rep
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
