package pipeline

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/store"
)

// countingExtractor records which URLs reached extraction.
type countingExtractor struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]models.ExtractedGrant
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{
		calls:   map[string]int{},
		results: map[string]models.ExtractedGrant{},
	}
}

func (c *countingExtractor) ExtractObserved(_ context.Context, url string) (models.ExtractedGrant, store.Observation, string) {
	c.mu.Lock()
	c.calls[url]++
	c.mu.Unlock()
	if g, ok := c.results[url]; ok {
		return g, store.Observation{DeadlineFound: g.Deadline != nil}, extractDomain(url)
	}
	return models.FailedExtraction(url, "no scripted result"), store.Observation{}, extractDomain(url)
}

func (c *countingExtractor) callCount(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

func newTestOrchestrator(t *testing.T, extractor Extractor) (*ExtractionOrchestrator, *store.Cache) {
	t.Helper()
	dir := t.TempDir()
	cache := store.NewCache(filepath.Join(dir, "cache.json"), zap.NewNop())
	profiles := store.NewFileSiteProfiles(filepath.Join(dir, "profiles.json"), zap.NewNop())
	o := NewExtractionOrchestrator(extractor, cache, profiles, nil, 3, "fake-model", zap.NewNop())
	return o, cache
}

func TestCacheShortCircuit(t *testing.T) {
	url := "https://x.org/bando/1"
	extractor := newCountingExtractor()
	o, cache := newTestOrchestrator(t, extractor)

	cached := models.ExtractedGrant{
		URL:               url,
		Title:             strP("Cached Call"),
		Deadline:          strP("2026-12-31"),
		ExtractionSuccess: true,
		ExtractionDate:    "2026-01-01T00:00:00Z",
		IsGrant:           true,
	}
	if err := cache.Put(cached); err != nil {
		t.Fatal(err)
	}

	results := o.ExtractBatch(context.Background(), []string{url}, false, "")
	if extractor.callCount(url) != 0 {
		t.Fatalf("extractor invoked %d times for a cached URL, want 0", extractor.callCount(url))
	}
	if len(results) != 1 || !reflect.DeepEqual(results[0], cached) {
		t.Fatalf("cached record must be returned unchanged:\ngot  %+v\nwant %+v", results[0], cached)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	url := "https://x.org/bando/2"
	extractor := newCountingExtractor()
	extractor.results[url] = models.ExtractedGrant{
		URL: url, Title: strP("Fresh"), ExtractionSuccess: true, IsGrant: true,
	}
	o, cache := newTestOrchestrator(t, extractor)
	if err := cache.Put(models.ExtractedGrant{URL: url, Title: strP("Stale"), ExtractionSuccess: true, IsGrant: true}); err != nil {
		t.Fatal(err)
	}

	results := o.ExtractBatch(context.Background(), []string{url}, true, "")
	if extractor.callCount(url) != 1 {
		t.Fatalf("extractor calls = %d, want 1 under force refresh", extractor.callCount(url))
	}
	if *results[0].Title != "Fresh" {
		t.Fatalf("force refresh must replace the cached record")
	}

	// The refreshed record is written through.
	hit, ok := cache.Get(url)
	if !ok || *hit.Title != "Fresh" {
		t.Fatalf("cache not updated after refresh: %+v", hit)
	}
}

func TestFailedExtractionNotCached(t *testing.T) {
	url := "https://x.org/bando/3"
	extractor := newCountingExtractor()
	o, cache := newTestOrchestrator(t, extractor)

	results := o.ExtractBatch(context.Background(), []string{url}, false, "")
	if results[0].ExtractionSuccess {
		t.Fatalf("unscripted URL should fail")
	}
	if _, ok := cache.Get(url); ok {
		t.Fatalf("failed extraction must not enter the cache")
	}
}

func TestSnapshotWritten(t *testing.T) {
	urls := []string{"https://x.org/bando/4", "https://x.org/bando/5"}
	extractor := newCountingExtractor()
	for _, u := range urls {
		extractor.results[u] = models.ExtractedGrant{
			URL: u, Title: strP("Call"), Abstract: strP("ai research"), ExtractionSuccess: true, IsGrant: true,
		}
	}

	dir := t.TempDir()
	cache := store.NewCache(filepath.Join(dir, "cache.json"), zap.NewNop())
	profiles := store.NewFileSiteProfiles(filepath.Join(dir, "profiles.json"), zap.NewNop())
	idx := match.NewKeywordIndex(map[string][]string{"a@x.org": {"ai"}})
	matcher := match.NewMatcher(idx, nil, match.Filters{}, zap.NewNop())
	o := NewExtractionOrchestrator(extractor, cache, profiles, matcher, 2, "fake-model", zap.NewNop())

	out := filepath.Join(dir, "extraction.json")
	o.ExtractBatch(context.Background(), urls, false, out)

	var snap ExtractionSnapshot
	found, err := store.LoadSnapshot(out, &snap)
	if err != nil || !found {
		t.Fatalf("LoadSnapshot: found=%v err=%v", found, err)
	}
	if len(snap.Grants) != 2 {
		t.Fatalf("snapshot grants = %d, want 2", len(snap.Grants))
	}
	if snap.Stats.Successful != 2 || snap.Stats.Total != 2 {
		t.Fatalf("snapshot stats = %+v", snap.Stats)
	}
	if snap.Model != "fake-model" {
		t.Fatalf("snapshot model = %q", snap.Model)
	}
	n, ok := snap.Notifications["a@x.org"]
	if !ok || n.TotalGrants != 2 {
		t.Fatalf("notifications = %+v, want both grants matched for a@x.org", snap.Notifications)
	}
}

func TestEmptyBatch(t *testing.T) {
	extractor := newCountingExtractor()
	o, _ := newTestOrchestrator(t, extractor)
	results := o.ExtractBatch(context.Background(), nil, false, "")
	if len(results) != 0 {
		t.Fatalf("empty input must yield an empty result, got %d", len(results))
	}
}

func strP(s string) *string { return &s }
