package collect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlText returns the visible text of an HTML fragment with whitespace
// collapsed. Plain text passes through unchanged apart from the collapse.
func htmlText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()

	doc.Find("br").ReplaceWithHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}
