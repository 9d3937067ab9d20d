package pipeline

import (
	"regexp"
	"strings"
	"time"
)

// deadlinePrefixes are the phrases that usually introduce a submission
// deadline on grant pages, across the languages the sources publish in.
var deadlinePrefixes = []string{
	"deadline",
	"scadenza",
	"closing date",
	"termine",
	"entro il",
	"apply by",
	"submission deadline",
	"data di chiusura",
	"chiusura",
	"due date",
}

// deadlineWindow bounds how far past a prefix a date is still credited
// to that prefix.
const deadlineWindow = 200

var fallbackDateRes = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/20\d{2}\b`),
	regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Gennaio|Febbraio|Marzo|Aprile|Maggio|Giugno|Luglio|Agosto|Settembre|Ottobre|Novembre|Dicembre)\s+\d{1,2},?\s+20\d{2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December|Gennaio|Febbraio|Marzo|Aprile|Maggio|Giugno|Luglio|Agosto|Settembre|Ottobre|Novembre|Dicembre)\s+20\d{2}\b`),
}

// DeadlineRegexFallback scans raw page text for a deadline the model
// missed. It finds a deadline-indicating phrase, then accepts the first
// recognizable date within the window after it whose year is at least
// last year, rejecting stale archive matches. Returns the deadline as
// YYYY-MM-DD, or nil when nothing credible is found.
type DeadlineRegexFallback struct {
	now func() time.Time
}

func NewDeadlineRegexFallback() *DeadlineRegexFallback {
	return &DeadlineRegexFallback{now: time.Now}
}

// Find runs the fallback over text that has already been stripped of
// markup. First match wins. Searching and slicing both happen on the
// lowercased text, because lowercasing can change byte offsets for some
// code points; the date patterns are case-insensitive anyway.
func (f *DeadlineRegexFallback) Find(text string) *string {
	lower := strings.ToLower(text)
	minYear := f.now().Year() - 1

	for _, prefix := range deadlinePrefixes {
		from := 0
		for {
			idx := strings.Index(lower[from:], prefix)
			if idx == -1 {
				break
			}
			start := from + idx + len(prefix)
			end := start + deadlineWindow
			if end > len(lower) {
				end = len(lower)
			}
			window := lower[start:end]

			for _, re := range fallbackDateRes {
				m := re.FindString(window)
				if m == "" {
					continue
				}
				t, err := parseDateRobust(m)
				if err != nil || t.Year() < minYear {
					continue
				}
				iso := t.Format("2006-01-02")
				return &iso
			}
			from = start
		}
	}
	return nil
}
