package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/store"
)

// Extractor is the per-URL extraction dependency of the orchestrator,
// kept narrow so tests can count invocations.
type Extractor interface {
	ExtractObserved(ctx context.Context, url string) (models.ExtractedGrant, store.Observation, string)
}

// ExtractionStats summarizes one extraction batch.
type ExtractionStats struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	FromCache   int     `json:"from_cache"`
	SuccessRate float64 `json:"success_rate"`
}

// NotificationSummary is the per-recipient aggregate persisted with the
// extraction snapshot.
type NotificationSummary struct {
	MatchedGrants []string `json:"matched_grants"`
	TotalGrants   int      `json:"total_grants"`
}

// ExtractionSnapshot is the persisted extraction-output document.
type ExtractionSnapshot struct {
	Grants        []models.ExtractedGrant        `json:"grants"`
	Notifications map[string]NotificationSummary `json:"notifications"`
	Stats         ExtractionStats                `json:"stats"`
	Model         string                         `json:"model"`
}

type completion struct {
	grant  models.ExtractedGrant
	obs    store.Observation
	domain string
}

// ExtractionOrchestrator fans URLs out to a bounded worker pool and folds
// completions back in on a single goroutine: cache writes, site-profile
// updates and snapshot overwrites all happen there, so the persistent
// stores see at most one writer at a time.
type ExtractionOrchestrator struct {
	extractor Extractor
	cache     *store.Cache
	profiles  store.SiteProfiles
	matcher   *match.Matcher
	workers   int
	model     string
	log       *zap.Logger
}

func NewExtractionOrchestrator(extractor Extractor, cache *store.Cache, profiles store.SiteProfiles, matcher *match.Matcher, workers int, model string, log *zap.Logger) *ExtractionOrchestrator {
	if workers <= 0 {
		workers = 10
	}
	return &ExtractionOrchestrator{
		extractor: extractor,
		cache:     cache,
		profiles:  profiles,
		matcher:   matcher,
		workers:   workers,
		model:     model,
		log:       log.With(zap.String("component", "orchestrator")),
	}
}

// ExtractBatch extracts every URL, consulting the cache first unless
// forceRefresh is set. When outPath is non-empty the accumulated snapshot
// is rewritten after every completion. Results arrive in completion
// order; each record is independent.
func (o *ExtractionOrchestrator) ExtractBatch(ctx context.Context, urls []string, forceRefresh bool, outPath string) []models.ExtractedGrant {
	results := make([]models.ExtractedGrant, 0, len(urls))
	cached := 0

	var pending []string
	for _, u := range urls {
		if !forceRefresh {
			if hit, ok := o.cache.Get(u); ok && hit.ExtractionSuccess {
				results = append(results, hit)
				cached++
				continue
			}
		}
		pending = append(pending, u)
	}
	o.log.Info("extraction batch starting",
		zap.Int("urls", len(urls)),
		zap.Int("cached", cached),
		zap.Int("pending", len(pending)),
		zap.Int("workers", o.workers))

	if len(pending) > 0 {
		jobs := make(chan string)
		completions := make(chan completion)

		var wg sync.WaitGroup
		workers := o.workers
		if workers > len(pending) {
			workers = len(pending)
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for u := range jobs {
					grant, obs, domain := o.extractor.ExtractObserved(ctx, u)
					completions <- completion{grant: grant, obs: obs, domain: domain}
				}
			}()
		}
		go func() {
			defer close(jobs)
			for _, u := range pending {
				select {
				case jobs <- u:
				case <-ctx.Done():
					return
				}
			}
		}()
		go func() {
			wg.Wait()
			close(completions)
		}()

		done := 0
		for c := range completions {
			results = append(results, c.grant)
			done++

			// Single-writer section: every persistent mutation for this
			// completion happens here, not in the worker.
			if err := o.profiles.Upsert(c.domain, c.obs); err != nil {
				o.log.Error("site profile update failed",
					zap.String("domain", c.domain), zap.Error(err))
			}
			if err := o.cache.Put(c.grant); err != nil {
				o.log.Error("cache update failed",
					zap.String("url", c.grant.URL), zap.Error(err))
			}
			if outPath != "" {
				o.writeSnapshot(outPath, results, cached)
			}
			if done%10 == 0 {
				o.log.Info("extraction progress",
					zap.Int("done", done),
					zap.Int("pending", len(pending)-done))
			}
		}
	}

	stats := o.stats(results, cached)
	o.log.Info("extraction batch complete",
		zap.Int("total", stats.Total),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Int("from_cache", stats.FromCache),
		zap.Float64("success_rate", stats.SuccessRate))
	if outPath != "" {
		o.writeSnapshot(outPath, results, cached)
	}
	return results
}

func (o *ExtractionOrchestrator) stats(results []models.ExtractedGrant, cached int) ExtractionStats {
	stats := ExtractionStats{Total: len(results), FromCache: cached}
	for _, g := range results {
		if g.ExtractionSuccess {
			stats.Successful++
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// writeSnapshot overwrites the full output document with everything
// accumulated so far, including the derived notification aggregates.
func (o *ExtractionOrchestrator) writeSnapshot(path string, results []models.ExtractedGrant, cached int) {
	snap := ExtractionSnapshot{
		Grants:        results,
		Notifications: map[string]NotificationSummary{},
		Stats:         o.stats(results, cached),
		Model:         o.model,
	}
	if o.matcher != nil {
		matches, _ := o.matcher.Match(results)
		for _, gm := range matches {
			for _, rm := range gm.MatchedEmails {
				n := snap.Notifications[rm.Email]
				n.MatchedGrants = append(n.MatchedGrants, gm.Grant.URL)
				n.TotalGrants = len(n.MatchedGrants)
				snap.Notifications[rm.Email] = n
			}
		}
	}
	if err := store.SaveSnapshot(path, &snap); err != nil {
		o.log.Error("snapshot write failed", zap.String("path", path), zap.Error(err))
	}
}
