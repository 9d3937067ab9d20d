package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToText renders page HTML down to whitespace-normalized text, with
// script/style/nav noise removed. Falls back to the raw input when the
// markup cannot be parsed at all.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalizeSpace(html)
	}
	doc.Find("script, style, noscript, iframe").Remove()
	return normalizeSpace(doc.Text())
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate bounds s to max bytes. This is a token-budget safeguard, not a
// content-selection step.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
