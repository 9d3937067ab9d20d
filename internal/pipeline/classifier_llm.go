package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/ai"
	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/store"
)

// ResumePolicy tells the classifier what to do with a partial output file
// from an interrupted run.
type ResumePolicy string

const (
	// ResumeReuse returns an existing output file as the final result.
	ResumeReuse ResumePolicy = "reuse"
	// ResumeContinue keeps partial classifications and classifies only
	// the remaining URLs.
	ResumeContinue ResumePolicy = "continue"
	// ResumeRestart discards any partial output and starts over.
	ResumeRestart ResumePolicy = "restart"
)

// ClassificationStats is persisted alongside the classifications.
type ClassificationStats struct {
	TotalLinks    int     `json:"total_links"`
	SingleGrant   int     `json:"single_grant"`
	GrantList     int     `json:"grant_list"`
	Other         int     `json:"other"`
	Error         int     `json:"error"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// ClassificationResult is the persisted classification-output document.
type ClassificationResult struct {
	Classifications []models.GrantCandidate `json:"classifications"`
	Stats           ClassificationStats     `json:"stats"`
	Model           string                  `json:"model"`
	Timestamp       string                  `json:"timestamp"`
}

// LLMClassifier runs the two-tier funnel: the regex pass first, then the
// unresolved remainder through the model in sequential batches. A failing
// batch marks only its own URLs as errors. The accumulated result is
// checkpointed after the regex phase and after every batch.
type LLMClassifier struct {
	llm       ai.Client
	regex     *RegexClassifier
	batchSize int
	system    string
	prompt    string
	temp      float64
	timeout   time.Duration
	log       *zap.Logger
}

func NewLLMClassifier(llm ai.Client, regex *RegexClassifier, cfg *config.Config, log *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		llm:       llm,
		regex:     regex,
		batchSize: cfg.Classifier.BatchSize,
		system:    cfg.Classifier.SystemPrompt,
		prompt:    cfg.Classifier.Prompt,
		temp:      cfg.LLM.Temperature,
		timeout:   cfg.LLMTimeout(),
		log:       log.With(zap.String("component", "llm_classifier")),
	}
}

// Classify classifies every URL. When outPath names an existing partial
// output, resume decides whether it is reused, continued from, or
// discarded.
func (c *LLMClassifier) Classify(ctx context.Context, urls []string, resume ResumePolicy, outPath string) (*ClassificationResult, error) {
	result := &ClassificationResult{
		Classifications: []models.GrantCandidate{},
		Model:           c.llm.Model(),
	}

	remaining := urls
	if outPath != "" && resume != ResumeRestart {
		var prior ClassificationResult
		found, err := store.LoadSnapshot(outPath, &prior)
		if err != nil {
			c.log.Info("prior classification output unusable, restarting", zap.Error(err))
		} else if found {
			if resume == ResumeReuse {
				c.log.Info("reusing existing classification output",
					zap.String("path", outPath),
					zap.Int("classifications", len(prior.Classifications)))
				return &prior, nil
			}
			// continue: keep what was classified, work on the rest.
			done := make(map[string]bool, len(prior.Classifications))
			for _, cand := range prior.Classifications {
				done[cand.URL] = true
			}
			result.Classifications = prior.Classifications
			remaining = remaining[:0:0]
			for _, u := range urls {
				if !done[u] {
					remaining = append(remaining, u)
				}
			}
			c.log.Info("continuing partial classification",
				zap.Int("done", len(prior.Classifications)),
				zap.Int("remaining", len(remaining)))
		}
	}

	classified, unclassified := c.regex.Classify(remaining)
	result.Classifications = append(result.Classifications, classified...)
	c.checkpoint(result, outPath)

	for start := 0; start < len(unclassified); start += c.batchSize {
		end := start + c.batchSize
		if end > len(unclassified) {
			end = len(unclassified)
		}
		batch := unclassified[start:end]
		result.Classifications = append(result.Classifications, c.classifyBatch(ctx, batch)...)
		c.checkpoint(result, outPath)
	}

	result.Stats = computeStats(result.Classifications)
	result.Timestamp = time.Now().Format(time.RFC3339)
	c.checkpoint(result, outPath)
	c.log.Info("classification complete",
		zap.Int("total", result.Stats.TotalLinks),
		zap.Int("single_grant", result.Stats.SingleGrant),
		zap.Int("grant_list", result.Stats.GrantList),
		zap.Int("other", result.Stats.Other),
		zap.Int("error", result.Stats.Error))
	return result, nil
}

// classifyBatch sends one batch to the model. Any failure marks every URL
// in the batch as an error and the run continues.
func (c *LLMClassifier) classifyBatch(ctx context.Context, batch []string) []models.GrantCandidate {
	prompt := fmt.Sprintf(c.prompt, strings.Join(batch, "\n"))
	resp, err := c.llm.Chat(ctx, c.system, prompt, c.temp, c.timeout)
	if err != nil {
		return c.batchError(batch, err)
	}
	arr, err := parseJSONArray(resp)
	if err != nil {
		c.log.Debug("unparsable classification response",
			zap.String("response", truncate(resp, 400)))
		return c.batchError(batch, err)
	}

	byURL := map[string]models.GrantCandidate{}
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cand := models.GrantCandidate{Category: models.CategoryOther}
		if u := stringField(obj, "url", c.log); u != nil {
			cand.URL = *u
		}
		if cat := stringField(obj, "category", c.log); cat != nil {
			switch models.Category(*cat) {
			case models.CategorySingleGrant, models.CategoryGrantList, models.CategoryOther:
				cand.Category = models.Category(*cat)
			}
		}
		if r := stringField(obj, "reason", c.log); r != nil {
			cand.Reason = *r
		}
		if v, ok := safeGet(obj, "confidence", nil); ok {
			if f, ok := v.(float64); ok {
				cand.Confidence = f
			}
		}
		if cand.URL != "" {
			byURL[cand.URL] = cand
		}
	}

	out := make([]models.GrantCandidate, 0, len(batch))
	for _, u := range batch {
		if cand, ok := byURL[u]; ok {
			out = append(out, cand)
			continue
		}
		out = append(out, models.GrantCandidate{
			URL:      u,
			Category: models.CategoryError,
			Reason:   "missing from model response",
		})
	}
	return out
}

func (c *LLMClassifier) batchError(batch []string, err error) []models.GrantCandidate {
	c.log.Warn("classification batch failed",
		zap.Int("urls", len(batch)), zap.Error(err))
	out := make([]models.GrantCandidate, 0, len(batch))
	for _, u := range batch {
		out = append(out, models.GrantCandidate{
			URL:      u,
			Category: models.CategoryError,
			Reason:   err.Error(),
		})
	}
	return out
}

func (c *LLMClassifier) checkpoint(result *ClassificationResult, outPath string) {
	if outPath == "" {
		return
	}
	result.Stats = computeStats(result.Classifications)
	result.Timestamp = time.Now().Format(time.RFC3339)
	if err := store.SaveSnapshot(outPath, result); err != nil {
		c.log.Error("classification checkpoint failed",
			zap.String("path", outPath), zap.Error(err))
	}
}

func computeStats(cands []models.GrantCandidate) ClassificationStats {
	stats := ClassificationStats{TotalLinks: len(cands)}
	confSum, confN := 0.0, 0
	for _, cand := range cands {
		switch cand.Category {
		case models.CategorySingleGrant:
			stats.SingleGrant++
		case models.CategoryGrantList:
			stats.GrantList++
		case models.CategoryOther:
			stats.Other++
		case models.CategoryError:
			stats.Error++
		}
		if cand.Confidence > 0 {
			confSum += cand.Confidence
			confN++
		}
	}
	if confN > 0 {
		stats.AvgConfidence = confSum / float64(confN)
	}
	return stats
}
