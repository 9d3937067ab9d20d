package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

// Observation is the outcome of one extraction attempt against a domain.
type Observation struct {
	DeadlineFound     bool
	FundingFound      bool
	RevealClicks      int
	ExpandableContent bool
}

// SiteProfiles is the repository interface over per-domain heuristics.
// The key space is open ended: domains are not known in advance.
type SiteProfiles interface {
	Get(domain string) models.SiteProfile
	Upsert(domain string, obs Observation) error
	All() []models.SiteProfile
}

const (
	defaultTimeout = 8
	maxTimeout     = 15
	defaultClicks  = 10
	maxClicks      = 30
)

// FileSiteProfiles is the JSON-file-backed SiteProfiles implementation.
// Callers must serialize Upsert externally per the run's concurrency model;
// the internal mutex additionally guards against accidental overlap.
type FileSiteProfiles struct {
	mu       sync.Mutex
	path     string
	profiles map[string]models.SiteProfile
	log      *zap.Logger
}

func NewFileSiteProfiles(path string, log *zap.Logger) *FileSiteProfiles {
	p := &FileSiteProfiles{
		path:     path,
		profiles: map[string]models.SiteProfile{},
		log:      log.With(zap.String("store", "site_profiles")),
	}
	loadJSON(path, &p.profiles, p.log)
	return p
}

// Get returns the stored profile for domain, or an optimistic default
// (success rate 0.5) for a domain never observed before.
func (p *FileSiteProfiles) Get(domain string) models.SiteProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prof, ok := p.profiles[domain]; ok {
		return prof
	}
	return models.SiteProfile{
		Domain:              domain,
		DeadlineSuccessRate: 0.5,
		RecommendedTimeout:  defaultTimeout,
		RecommendedClicks:   defaultClicks,
	}
}

// Upsert folds one observation into the domain's profile with an
// incremental running average and persists the store. Profiles are never
// deleted; observations only grow.
func (p *FileSiteProfiles) Upsert(domain string, obs Observation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prof, ok := p.profiles[domain]
	if !ok {
		prof = models.SiteProfile{
			Domain:             domain,
			RecommendedTimeout: defaultTimeout,
			RecommendedClicks:  defaultClicks,
		}
	}

	prof.Observations++
	sample := 0.0
	if obs.DeadlineFound {
		sample = 1.0
	}
	n := float64(prof.Observations)
	prof.DeadlineSuccessRate = (prof.DeadlineSuccessRate*(n-1) + sample) / n

	if obs.ExpandableContent {
		prof.HasExpandableContent = true
	}

	// A miss after several reveal clicks suggests the deadline loads
	// behind further JavaScript: raise the budget for next time.
	if !obs.DeadlineFound && obs.RevealClicks > 3 {
		prof.HasJSLoadedDeadline = true
		if prof.RecommendedTimeout+2 <= maxTimeout {
			prof.RecommendedTimeout += 2
		} else {
			prof.RecommendedTimeout = maxTimeout
		}
		if obs.RevealClicks+5 < maxClicks {
			prof.RecommendedClicks = obs.RevealClicks + 5
		} else {
			prof.RecommendedClicks = maxClicks
		}
	}

	prof.LastUpdated = time.Now().Format(time.RFC3339)
	p.profiles[domain] = prof

	if err := saveJSON(p.path, p.profiles); err != nil {
		p.log.Error("site profile write failed",
			zap.String("domain", domain), zap.Error(err))
		return err
	}
	return nil
}

// All returns a copy of every stored profile.
func (p *FileSiteProfiles) All() []models.SiteProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.SiteProfile, 0, len(p.profiles))
	for _, prof := range p.profiles {
		out = append(out, prof)
	}
	return out
}
