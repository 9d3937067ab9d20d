package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/store"
)

// RunOptions tunes one pipeline execution.
type RunOptions struct {
	// IncludeSeen processes URLs already surfaced by earlier runs.
	IncludeSeen bool
	// ForceRefresh bypasses the extraction cache.
	ForceRefresh bool
	// Resume controls what happens to a partial classification output.
	Resume ResumePolicy
	// ClassificationPath and ExtractionPath are the run-output files;
	// empty disables checkpointing for that stage.
	ClassificationPath string
	ExtractionPath     string
}

// RunReport is the run-level summary, emitted regardless of how many
// individual URLs failed.
type RunReport struct {
	RunID          string                  `json:"run_id"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`
	InputURLs      int                     `json:"input_urls"`
	SkippedSeen    int                     `json:"skipped_seen"`
	Classification *ClassificationResult   `json:"classification"`
	Grants         []models.ExtractedGrant `json:"grants"`
	Matches        []models.GrantMatch     `json:"matches"`
	FilterStats    match.FilterStats       `json:"filter_stats"`
}

// Pipeline wires the full discovery flow: seen-URL filtering, the
// classification funnel, parallel extraction and recipient matching.
type Pipeline struct {
	classifier   *LLMClassifier
	orchestrator *ExtractionOrchestrator
	matcher      *match.Matcher
	seen         *store.SeenURLs
	log          *zap.Logger
}

func NewPipeline(classifier *LLMClassifier, orchestrator *ExtractionOrchestrator, matcher *match.Matcher, seen *store.SeenURLs, log *zap.Logger) *Pipeline {
	return &Pipeline{
		classifier:   classifier,
		orchestrator: orchestrator,
		matcher:      matcher,
		seen:         seen,
		log:          log.With(zap.String("component", "pipeline")),
	}
}

// Run executes the whole pipeline over urls. An empty input produces a
// well-formed zero-valued report, not an error.
func (p *Pipeline) Run(ctx context.Context, urls []string, opts RunOptions) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		InputURLs: len(urls),
		Grants:    []models.ExtractedGrant{},
		Matches:   []models.GrantMatch{},
	}
	log := p.log.With(zap.String("run_id", report.RunID))

	fresh := urls
	if !opts.IncludeSeen {
		fresh = p.seen.FilterNew(urls)
		report.SkippedSeen = len(urls) - len(fresh)
		if report.SkippedSeen > 0 {
			log.Info("skipping previously seen urls",
				zap.Int("skipped", report.SkippedSeen))
		}
	}

	resume := opts.Resume
	if resume == "" {
		resume = ResumeRestart
	}
	classification, err := p.classifier.Classify(ctx, fresh, resume, opts.ClassificationPath)
	if err != nil {
		return nil, err
	}
	report.Classification = classification

	var singles []string
	for _, cand := range classification.Classifications {
		if cand.Category == models.CategorySingleGrant {
			singles = append(singles, cand.URL)
		}
	}

	report.Grants = p.orchestrator.ExtractBatch(ctx, singles, opts.ForceRefresh, opts.ExtractionPath)
	report.Matches, report.FilterStats = p.matcher.Match(report.Grants)

	if len(fresh) > 0 {
		if err := p.seen.MarkSeen(fresh...); err != nil {
			log.Error("failed to persist seen urls", zap.Error(err))
		}
	}

	report.FinishedAt = time.Now()
	log.Info("run complete",
		zap.Int("input_urls", report.InputURLs),
		zap.Int("skipped_seen", report.SkippedSeen),
		zap.Int("single_grant", classification.Stats.SingleGrant),
		zap.Int("grant_list", classification.Stats.GrantList),
		zap.Int("other", classification.Stats.Other),
		zap.Int("classification_errors", classification.Stats.Error),
		zap.Int("extracted", len(report.Grants)),
		zap.Int("matched", report.FilterStats.MatchedGrants),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}
