package match

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

func strPtr(s string) *string { return &s }

func okGrant(url, title, abstract string) models.ExtractedGrant {
	return models.ExtractedGrant{
		URL:               url,
		Title:             strPtr(title),
		Abstract:          strPtr(abstract),
		ExtractionSuccess: true,
		IsGrant:           true,
	}
}

type fakeSent map[string]map[string]bool

func (f fakeSent) WasSentTo(url, email string) bool { return f[url][email] }

func TestWordBoundaryMatching(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"bio"}})
	m := NewMatcher(idx, nil, Filters{}, zap.NewNop())

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"standalone word", "bio and ai research", true},
		{"inside longer word", "biography research", false},
		{"at end of text", "funding for marine bio", true},
		{"punctuation boundary", "call for bio, chemistry and physics", true},
		{"accented continuation", "biologia della cellula", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, _ := m.Match([]models.ExtractedGrant{okGrant("https://x.org/1", "", tc.text)})
			got := len(res) == 1
			if got != tc.want {
				t.Fatalf("text %q: matched=%v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestMultiWordKeyword(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"machine learning"}})
	m := NewMatcher(idx, nil, Filters{}, zap.NewNop())

	res, _ := m.Match([]models.ExtractedGrant{
		okGrant("https://x.org/1", "Machine Learning for Health", "call for proposals"),
	})
	if len(res) != 1 {
		t.Fatalf("expected match on title text")
	}
	if kws := res[0].MatchedEmails[0].MatchedKeywords; len(kws) != 1 || kws[0] != "machine learning" {
		t.Fatalf("matched keywords = %v", kws)
	}
}

func TestSentHistoryExclusionPerRecipient(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{
		"a@x.org": {"ai"},
		"b@x.org": {"ai"},
	})
	sent := fakeSent{"https://x.org/1": {"a@x.org": true}}
	m := NewMatcher(idx, sent, Filters{ExcludeAlreadySent: true}, zap.NewNop())

	res, stats := m.Match([]models.ExtractedGrant{okGrant("https://x.org/1", "AI call", "ai funding")})
	if len(res) != 1 {
		t.Fatalf("grant should survive for the recipient it was never sent to")
	}
	if len(res[0].MatchedEmails) != 1 || res[0].MatchedEmails[0].Email != "b@x.org" {
		t.Fatalf("surviving recipients = %+v, want only b@x.org", res[0].MatchedEmails)
	}
	if stats.AlreadySent != 1 || stats.PerRecipient["a@x.org"].AlreadySent != 1 {
		t.Fatalf("stats = %+v, want one already-sent exclusion for a@x.org", stats)
	}
}

func TestExpiredDeadlineExclusion(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"ai"}})

	expired := okGrant("https://x.org/old", "AI call", "ai funding")
	expired.Deadline = strPtr("2020-01-01")
	noDeadline := okGrant("https://x.org/open", "AI call", "ai funding")
	unparsable := okGrant("https://x.org/odd", "AI call", "ai funding")
	unparsable.Deadline = strPtr("rolling basis")

	m := NewMatcher(idx, nil, Filters{ExcludeExpiredDeadline: true}, zap.NewNop())
	res, stats := m.Match([]models.ExtractedGrant{expired, noDeadline, unparsable})
	if len(res) != 2 {
		t.Fatalf("got %d grants, want 2 (expired excluded, nil and unparsable kept)", len(res))
	}
	if stats.ExpiredDeadline != 1 {
		t.Fatalf("expired exclusions = %d, want 1", stats.ExpiredDeadline)
	}

	m = NewMatcher(idx, nil, Filters{ExcludeExpiredDeadline: false}, zap.NewNop())
	res, _ = m.Match([]models.ExtractedGrant{expired})
	if len(res) != 1 {
		t.Fatalf("expired grant must be included when the filter is off")
	}
}

func TestFailedExtractionExclusionToggle(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"ai"}})

	failed := okGrant("https://x.org/1", "AI call", "ai funding")
	failed.ExtractionSuccess = false

	m := NewMatcher(idx, nil, Filters{ExcludeFailedExtraction: true}, zap.NewNop())
	if res, _ := m.Match([]models.ExtractedGrant{failed}); len(res) != 0 {
		t.Fatalf("failed extraction must be excluded when the filter is on")
	}

	m = NewMatcher(idx, nil, Filters{ExcludeFailedExtraction: false}, zap.NewNop())
	if res, _ := m.Match([]models.ExtractedGrant{failed}); len(res) != 1 {
		t.Fatalf("failed extraction must be included when the filter is off")
	}
}

func TestZeroRecipientGrantDropped(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"quantum"}})
	m := NewMatcher(idx, nil, Filters{}, zap.NewNop())

	res, stats := m.Match([]models.ExtractedGrant{okGrant("https://x.org/1", "Arts grant", "painting and sculpture")})
	if len(res) != 0 {
		t.Fatalf("grant with no keyword hits must be dropped")
	}
	if stats.MatchedGrants != 0 || stats.TotalGrants != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDeadlineToday(t *testing.T) {
	idx := NewKeywordIndex(map[string][]string{"a@x.org": {"ai"}})
	m := NewMatcher(idx, nil, Filters{ExcludeExpiredDeadline: true}, zap.NewNop())
	m.now = func() time.Time { return time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC) }

	g := okGrant("https://x.org/1", "AI call", "ai funding")
	g.Deadline = strPtr("2026-03-10")
	if res, _ := m.Match([]models.ExtractedGrant{g}); len(res) != 1 {
		t.Fatalf("deadline today is not expired, grant must pass")
	}

	g.Deadline = strPtr("2026-03-09")
	if res, _ := m.Match([]models.ExtractedGrant{g}); len(res) != 0 {
		t.Fatalf("deadline yesterday must be excluded")
	}
}
