package match

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

// SentChecker answers whether a grant URL was already delivered to a
// recipient. Satisfied by store.SentGrants.
type SentChecker interface {
	WasSentTo(url, email string) bool
}

// Filters toggles the three per-recipient exclusion rules independently.
type Filters struct {
	ExcludeAlreadySent      bool
	ExcludeFailedExtraction bool
	ExcludeExpiredDeadline  bool
}

// DefaultFilters matches the production configuration: everything on.
func DefaultFilters() Filters {
	return Filters{
		ExcludeAlreadySent:      true,
		ExcludeFailedExtraction: true,
		ExcludeExpiredDeadline:  true,
	}
}

// RecipientStats counts exclusions for one recipient.
type RecipientStats struct {
	AlreadySent      int `json:"already_sent"`
	FailedExtraction int `json:"failed_extraction"`
	ExpiredDeadline  int `json:"expired_deadline"`
	Matched          int `json:"matched"`
}

// FilterStats aggregates exclusion counts globally and per recipient.
type FilterStats struct {
	TotalGrants      int                       `json:"total_grants"`
	MatchedGrants    int                       `json:"matched_grants"`
	AlreadySent      int                       `json:"already_sent"`
	FailedExtraction int                       `json:"failed_extraction"`
	ExpiredDeadline  int                       `json:"expired_deadline"`
	PerRecipient     map[string]RecipientStats `json:"per_recipient"`
}

// Matcher associates extracted grants with recipients through keyword
// matching, then applies the exclusion filters per recipient. The same
// grant can pass for one recipient and be excluded for another.
type Matcher struct {
	index   *KeywordIndex
	sent    SentChecker
	filters Filters
	now     func() time.Time
	log     *zap.Logger
}

func NewMatcher(index *KeywordIndex, sent SentChecker, filters Filters, log *zap.Logger) *Matcher {
	return &Matcher{
		index:   index,
		sent:    sent,
		filters: filters,
		now:     time.Now,
		log:     log.With(zap.String("component", "matcher")),
	}
}

// Match runs the full keyword+filter stage. Grants with zero surviving
// recipients are dropped from the output entirely.
func (m *Matcher) Match(grants []models.ExtractedGrant) ([]models.GrantMatch, FilterStats) {
	stats := FilterStats{
		TotalGrants:  len(grants),
		PerRecipient: map[string]RecipientStats{},
	}

	var out []models.GrantMatch
	for _, g := range grants {
		byEmail := m.matchKeywords(g)
		if len(byEmail) == 0 {
			continue
		}

		var surviving []models.RecipientMatch
		emails := make([]string, 0, len(byEmail))
		for e := range byEmail {
			emails = append(emails, e)
		}
		sort.Strings(emails)

		for _, email := range emails {
			rs := stats.PerRecipient[email]
			switch {
			case m.filters.ExcludeAlreadySent && m.sent != nil && m.sent.WasSentTo(g.URL, email):
				stats.AlreadySent++
				rs.AlreadySent++
			case m.filters.ExcludeFailedExtraction && !g.ExtractionSuccess:
				stats.FailedExtraction++
				rs.FailedExtraction++
			case m.filters.ExcludeExpiredDeadline && m.deadlineExpired(g.Deadline):
				stats.ExpiredDeadline++
				rs.ExpiredDeadline++
			default:
				rs.Matched++
				surviving = append(surviving, models.RecipientMatch{
					Email:           email,
					MatchedKeywords: byEmail[email],
				})
			}
			stats.PerRecipient[email] = rs
		}

		if len(surviving) > 0 {
			stats.MatchedGrants++
			out = append(out, models.GrantMatch{Grant: g, MatchedEmails: surviving})
		}
	}

	m.log.Info("matching complete",
		zap.Int("grants", stats.TotalGrants),
		zap.Int("matched", stats.MatchedGrants),
		zap.Int("excluded_sent", stats.AlreadySent),
		zap.Int("excluded_failed", stats.FailedExtraction),
		zap.Int("excluded_expired", stats.ExpiredDeadline))
	return out, stats
}

// matchKeywords returns email -> matched keywords for one grant. The
// abstract is the preferred haystack with the title appended; a cheap
// substring pass narrows the keyword set before the word-boundary check.
func (m *Matcher) matchKeywords(g models.ExtractedGrant) map[string][]string {
	var parts []string
	if g.Abstract != nil {
		parts = append(parts, *g.Abstract)
	}
	if g.Title != nil {
		parts = append(parts, *g.Title)
	}
	text := strings.ToLower(strings.Join(parts, " "))
	if text == "" {
		return nil
	}

	byEmail := map[string][]string{}
	for _, kw := range m.index.Keywords() {
		if !strings.Contains(text, kw) {
			continue
		}
		if !m.index.Matches(kw, text) {
			continue
		}
		for _, email := range m.index.Recipients(kw) {
			byEmail[email] = append(byEmail[email], kw)
		}
	}
	return byEmail
}

// deadlineExpired reports a deadline strictly before today. Absent or
// unparsable deadlines never count as expired.
func (m *Matcher) deadlineExpired(deadline *string) bool {
	if deadline == nil || *deadline == "" {
		return false
	}
	d, err := time.Parse("2006-01-02", *deadline)
	if err != nil {
		return false
	}
	y, mo, dd := m.now().Date()
	today := time.Date(y, mo, dd, 0, 0, 0, 0, time.UTC)
	return d.Before(today)
}
