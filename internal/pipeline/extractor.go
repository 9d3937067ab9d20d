package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/ai"
	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/render"
	"github.com/david/grant-scout/internal/store"
)

const llmAttempts = 3

// LLMExtractor turns a single URL into a structured grant record: render,
// optional source-adapter pruning, model call with retry on transient API
// errors, defensive JSON parsing, deadline normalization with regex and
// PDF fallbacks. Any per-URL failure becomes a failed record, never an
// aborted run.
type LLMExtractor struct {
	llm      ai.Client
	renderer render.Renderer
	profiles store.SiteProfiles
	adapters *adapterRegistry
	fallback *DeadlineRegexFallback
	pdfScan  *pdfDeadlineScanner
	cfg      config.ExtractorConfig
	system   string
	temp     float64
	timeout  time.Duration
	policy   *bluemonday.Policy
	backoff  func(attempt int) time.Duration
	log      *zap.Logger
}

func NewLLMExtractor(llm ai.Client, renderer render.Renderer, profiles store.SiteProfiles, cfg *config.Config, log *zap.Logger) *LLMExtractor {
	fallback := NewDeadlineRegexFallback()
	return &LLMExtractor{
		llm:      llm,
		renderer: renderer,
		profiles: profiles,
		adapters: newAdapterRegistry(ECEuropaAdapter{}),
		fallback: fallback,
		pdfScan:  newPDFDeadlineScanner(fallback, log),
		cfg:      cfg.Extractor,
		system:   cfg.Extractor.SystemPrompt,
		temp:     cfg.LLM.Temperature,
		timeout:  cfg.LLMTimeout(),
		policy:   bluemonday.StrictPolicy(),
		backoff:  ai.Backoff,
		log:      log.With(zap.String("component", "extractor")),
	}
}

// Extract runs the full per-URL pipeline including the site-profile
// update. Callers running a worker pool should use ExtractObserved and
// apply the observation on their own completion path instead.
func (e *LLMExtractor) Extract(ctx context.Context, target string) models.ExtractedGrant {
	grant, obs, domain := e.ExtractObserved(ctx, target)
	if err := e.profiles.Upsert(domain, obs); err != nil {
		e.log.Error("site profile update failed", zap.String("domain", domain), zap.Error(err))
	}
	return grant
}

// ExtractObserved extracts without touching the site-profile store,
// returning the observation for the caller to apply serially.
func (e *LLMExtractor) ExtractObserved(ctx context.Context, target string) (models.ExtractedGrant, store.Observation, string) {
	domain := extractDomain(target)
	obs := store.Observation{}

	grant, err := e.extract(ctx, target, domain, &obs)
	if err != nil {
		e.log.Warn("extraction failed",
			zap.String("url", target),
			zap.String("error_type", fmt.Sprintf("%T", err)),
			zap.Error(err))
		return models.FailedExtraction(target, err.Error()), obs, domain
	}
	obs.DeadlineFound = grant.Deadline != nil
	obs.FundingFound = grant.FundingAmount != nil
	return grant, obs, domain
}

func (e *LLMExtractor) extract(ctx context.Context, target, domain string, obs *store.Observation) (models.ExtractedGrant, error) {
	profile := e.profiles.Get(domain)
	opts := render.Options{
		Timeout:      time.Duration(profile.RecommendedTimeout) * time.Second,
		RevealClicks: profile.RecommendedClicks,
	}
	adapter := e.adapters.find(target)
	if adapter != nil {
		opts = adapter.RenderOptions(opts)
	}

	page, err := e.renderer.Render(ctx, target, opts)
	if err != nil {
		return models.ExtractedGrant{}, fmt.Errorf("render: %w", err)
	}
	obs.RevealClicks = page.Clicked
	obs.ExpandableContent = page.Clicked > 0

	// The fallback scans the raw page, not the pruned payload: pruning
	// serves the token budget, the deadline may live outside it.
	rawText := HTMLToText(page.HTML)

	payload := page.HTML
	if adapter != nil {
		pruned := adapter.PruneHTML(payload)
		if len(pruned) < len(payload) {
			e.log.Debug("source adapter pruned payload",
				zap.String("adapter", adapter.Name()),
				zap.Int("before", len(payload)),
				zap.Int("after", len(pruned)))
		}
		payload = pruned
	}
	payload = truncate(payload, e.cfg.MaxHTMLChars)

	resp, err := e.chatWithRetry(ctx, fmt.Sprintf(e.cfg.Prompt, target, payload))
	if err != nil {
		return models.ExtractedGrant{}, fmt.Errorf("model call: %w", err)
	}

	obj, err := parseJSONObject(resp)
	if err != nil {
		e.log.Debug("unparsable model response",
			zap.String("url", target),
			zap.String("response", truncate(resp, 400)))
		return models.ExtractedGrant{}, err
	}

	isGrant, ok := boolField(obj, "is_grant", e.log)
	if ok && !isGrant {
		if adapter != nil && adapter.TrustDespiteNotGrant() {
			e.log.Info("overriding is_grant=false verdict",
				zap.String("adapter", adapter.Name()),
				zap.String("url", target))
			isGrant = true
		} else {
			reason := "page is not a grant"
			if r := stringField(obj, "invalid_reason", e.log); r != nil {
				reason = "page is not a grant: " + *r
			}
			return models.ExtractedGrant{}, fmt.Errorf("%s", reason)
		}
	}

	grant := models.ExtractedGrant{
		URL:               target,
		Title:             e.sanitize(stringField(obj, "title", e.log)),
		Organization:      e.sanitize(stringField(obj, "organization", e.log)),
		Abstract:          e.sanitize(stringField(obj, "abstract", e.log)),
		FundingAmount:     normalizeFundingAmount(e.sanitize(stringField(obj, "funding_amount", e.log))),
		Deadline:          normalizeDeadline(stringField(obj, "deadline", e.log)),
		ExtractionSuccess: true,
		ExtractionDate:    time.Now().Format(time.RFC3339),
		IsGrant:           true,
	}

	if grant.Deadline == nil {
		grant.Deadline = e.fallback.Find(rawText)
	}
	if grant.Deadline == nil && e.cfg.ScanPDFAttachments && len(page.PDFLinks) > 0 {
		grant.Deadline = e.pdfScan.Scan(ctx, page.PDFLinks[0])
	}
	return grant, nil
}

// chatWithRetry retries the model call only on rate-limit and transient
// backend errors. Parsing and rendering problems never retry.
func (e *LLMExtractor) chatWithRetry(ctx context.Context, prompt string) (string, error) {
	var resp string
	var err error
	for attempt := 0; attempt < llmAttempts; attempt++ {
		resp, err = e.llm.Chat(ctx, e.system, prompt, e.temp, e.timeout)
		if err == nil {
			return resp, nil
		}
		if !ai.IsRetryable(err) {
			return "", err
		}
		wait := e.backoff(attempt)
		e.log.Warn("model call rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", err
}

// sanitize strips any markup a model echoes back inside a field value.
func (e *LLMExtractor) sanitize(s *string) *string {
	if s == nil {
		return nil
	}
	clean := normalizeSpace(e.policy.Sanitize(*s))
	if clean == "" {
		return nil
	}
	return &clean
}

func extractDomain(target string) string {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return target
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}
