package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var italianMonths = map[string]string{
	"gennaio":   "January",
	"febbraio":  "February",
	"marzo":     "March",
	"aprile":    "April",
	"maggio":    "May",
	"giugno":    "June",
	"luglio":    "July",
	"agosto":    "August",
	"settembre": "September",
	"ottobre":   "October",
	"novembre":  "November",
	"dicembre":  "December",
}

// parseDateRobust parses a free-form date string into a time. It tries ISO
// formats first, then common English layouts, then Italian month names,
// then regex extraction from surrounding text.
func parseDateRobust(text string) (time.Time, error) {
	text = cleanDateString(text)

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}

	englishFormats := []string{
		"2 January 2006",
		"02 January 2006",
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"2 Jan 2006",
		"02 Jan 2006",
		"02/01/2006",
		"2/1/2006",
		"2006/01/02",
		"2006-01-02 15:04:05",
	}
	for _, format := range englishFormats {
		if t, err := time.Parse(format, text); err == nil {
			return t, nil
		}
	}

	if t, err := parseItalianDate(text); err == nil {
		return t, nil
	}
	if t := parseDateWithRegex(text); !t.IsZero() {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// normalizeDeadline renders a parsed deadline as YYYY-MM-DD, or nil when
// the input is absent or unparsable. A deadline is never guessed.
func normalizeDeadline(raw *string) *string {
	if raw == nil {
		return nil
	}
	t, err := parseDateRobust(*raw)
	if err != nil {
		return nil
	}
	iso := t.Format("2006-01-02")
	return &iso
}

// parseItalianDate handles "15 marzo 2026" and "15 di marzo 2026" forms.
func parseItalianDate(text string) (time.Time, error) {
	lower := strings.ToLower(text)
	replaced := lower
	for it, en := range italianMonths {
		replaced = strings.ReplaceAll(replaced, it, en)
	}
	if replaced == lower {
		return time.Time{}, fmt.Errorf("no italian month in %q", text)
	}
	replaced = strings.ReplaceAll(replaced, " di ", " ")
	for _, format := range []string{"2 January 2006", "02 January 2006", "January 2, 2006"} {
		if t, err := time.Parse(format, replaced); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse italian date: %s", text)
}

var (
	isoDateRe   = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	monthNameRe = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Gennaio|Febbraio|Marzo|Aprile|Maggio|Giugno|Luglio|Agosto|Settembre|Ottobre|Novembre|Dicembre)\s+(\d{1,2}),?\s+(20\d{2})\b`)
)

// parseDateWithRegex extracts the first recognizable date embedded in text.
// Slash dates are read day-first, which matches the Italian sources; a
// month > 12 in the first position falls back to month-first.
func parseDateWithRegex(text string) time.Time {
	if m := isoDateRe.FindString(text); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t
		}
	}
	if m := slashDateRe.FindStringSubmatch(text); len(m) == 4 {
		if t, err := time.Parse("2/1/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])); err == nil {
			return t
		}
		if t, err := time.Parse("1/2/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])); err == nil {
			return t
		}
	}
	if m := monthNameRe.FindStringSubmatch(text); len(m) == 4 {
		month := m[1]
		if en, ok := italianMonths[strings.ToLower(month)]; ok {
			month = en
		}
		dateStr := fmt.Sprintf("%s %s %s", month, m[2], m[3])
		for _, format := range []string{"January 2 2006", "January 2, 2006"} {
			if t, err := time.Parse(format, dateStr); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// cleanDateString strips deadline-label prefixes before parsing.
func cleanDateString(s string) string {
	prefixes := []string{
		"Closing date:", "Deadline:", "Due date:", "Expires:", "Ends:",
		"Scadenza:", "Termine:", "Entro il:", "Entro il",
	}
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, strings.ToLower(p)); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
