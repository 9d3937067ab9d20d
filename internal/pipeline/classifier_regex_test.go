package pipeline

import (
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

func newTestRegexClassifier(t *testing.T) *RegexClassifier {
	t.Helper()
	c, err := NewRegexClassifier(nil, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegexClassifier: %v", err)
	}
	return c
}

func TestRegexClassifierCategories(t *testing.T) {
	c := newTestRegexClassifier(t)

	urls := []string{
		"https://x.org/bando/123",
		"https://x.org/bandi",
		"https://x.org/contact",
	}
	classified, unclassified := c.Classify(urls)
	if len(unclassified) != 0 {
		t.Fatalf("unclassified = %v, want none", unclassified)
	}
	want := []models.Category{
		models.CategorySingleGrant,
		models.CategoryGrantList,
		models.CategoryOther,
	}
	for i, cand := range classified {
		if cand.Category != want[i] {
			t.Errorf("%s: category = %s, want %s", cand.URL, cand.Category, want[i])
		}
	}
}

func TestRegexClassifierFunnelInvariant(t *testing.T) {
	c := newTestRegexClassifier(t)

	urls := []string{
		"https://x.org/bando/123",
		"https://x.org/bandi",
		"https://x.org/contact",
		"https://x.org/some-ambiguous-page",
		"https://y.it/finanziamenti",
		"https://y.it/notizie/2026",
	}
	classified, unclassified := c.Classify(urls)
	if len(classified)+len(unclassified) != len(urls) {
		t.Fatalf("funnel invariant violated: %d + %d != %d",
			len(classified), len(unclassified), len(urls))
	}

	seen := map[string]int{}
	for _, cand := range classified {
		seen[cand.URL]++
	}
	for _, u := range unclassified {
		seen[u]++
	}
	for u, n := range seen {
		if n != 1 {
			t.Errorf("url %s appeared %d times", u, n)
		}
	}
}

func TestRegexClassifierIdempotent(t *testing.T) {
	c := newTestRegexClassifier(t)

	urls := []string{
		"https://x.org/bando/123",
		"https://x.org/unknown",
		"https://x.org/grants/call-42",
	}
	c1, u1 := c.Classify(urls)
	c2, u2 := c.Classify(urls)
	if !reflect.DeepEqual(c1, c2) || !reflect.DeepEqual(u1, u2) {
		t.Fatalf("classification not deterministic:\nfirst  %v %v\nsecond %v %v", c1, u1, c2, u2)
	}
}

func TestRegexClassifierPriorityOrder(t *testing.T) {
	// A URL matching both a detail and a list family must take the
	// detail category: families apply in priority order.
	c, err := NewRegexClassifier(
		[]string{`/bando/`},
		[]string{`/bando/archive`},
		nil,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewRegexClassifier: %v", err)
	}
	classified, _ := c.Classify([]string{"https://x.org/bando/archive"})
	if len(classified) != 1 || classified[0].Category != models.CategorySingleGrant {
		t.Fatalf("got %+v, want single_grant from the first family", classified)
	}
}
