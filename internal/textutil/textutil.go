package textutil

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxKeywords is the number of keywords kept per text.
const MaxKeywords = 10

// MinTokenLength is the shortest token, in runes, considered a keyword.
const MinTokenLength = 2

// Sentiment is a coarse polarity tag.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// SentimentOrder is the tie-break order used when votes are equal.
var SentimentOrder = []Sentiment{Positive, Neutral, Negative}

// Valid reports whether s is one of the three known tags.
func (s Sentiment) Valid() bool {
	return s == Positive || s == Neutral || s == Negative
}

var (
	nonWord  = regexp.MustCompile(`[^\w가-힣\s]`)
	allDigit = regexp.MustCompile(`^\d+$`)
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"이", "그", "저", "것", "들", "의", "에", "를", "을", "와", "과", "도", "는", "은", "가",
		"하다", "있다", "되다", "하는", "있는", "되는", "같은", "다른", "많은", "좋은", "나쁜",
		"앱", "어플", "사용", "이용", "정말", "너무", "진짜", "완전", "아주", "매우", "조금",
		"좀", "잘", "안", "못", "더", "덜", "또", "다시", "계속", "항상", "가끔", "때문에",
		"그래서", "하지만", "그런데", "그러나", "근데", "그냥", "일단", "우선", "먼저",
	} {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the lowercased token is in the stopword list.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Tokenize lowercases text, replaces everything except word characters,
// Hangul syllables and whitespace with spaces, and splits on whitespace.
func Tokenize(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	return strings.Fields(cleaned)
}

// ExtractKeywords returns up to MaxKeywords tokens ranked by frequency within
// text. Equal frequencies keep first-occurrence order.
func ExtractKeywords(text string) []string {
	counts := make(map[string]int)
	var order []string
	for _, tok := range Tokenize(text) {
		if utf8.RuneCountInString(tok) < MinTokenLength || IsStopword(tok) || allDigit.MatchString(tok) {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	return order
}

var (
	positiveCues = []string{"좋", "만족", "편리", "빠른", "훌륭", "최고", "감사", "추천", "완벽"}
	negativeCues = []string{"나쁜", "느린", "불편", "짜증", "화나", "최악", "실망", "문제", "오류", "버그"}
)

// TagSentiment counts how many positive and negative cue substrings occur in
// text. Each cue counts at most once.
func TagSentiment(text string) Sentiment {
	pos := countCues(text, positiveCues)
	neg := countCues(text, negativeCues)
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}

func countCues(text string, cues []string) int {
	n := 0
	for _, c := range cues {
		if strings.Contains(text, c) {
			n++
		}
	}
	return n
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets have similarity 0, so
// reviews without keywords never group together.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// SetOf builds a set from a keyword slice.
func SetOf(words []string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}
