package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/david/grant-scout/internal/ai"
	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/pipeline"
	"github.com/david/grant-scout/internal/render"
	"github.com/david/grant-scout/internal/store"
)

// app holds the wired component graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	cache    *store.Cache
	seen     *store.SeenURLs
	sent     *store.SentGrants
	profiles store.SiteProfiles

	llm          ai.Client
	matcher      *match.Matcher
	classifier   *pipeline.LLMClassifier
	orchestrator *pipeline.ExtractionOrchestrator
	pipeline     *pipeline.Pipeline
}

func newLogger() (*zap.Logger, error) {
	if jsonLogs {
		cfg := zap.NewProductionConfig()
		if debug {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		return cfg.Build()
	}
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		cache:    store.NewCache(cfg.Stores.Cache, log),
		seen:     store.NewSeenURLs(cfg.Stores.SeenURLs, log),
		sent:     store.NewSentGrants(cfg.Stores.SentGrants, log),
		profiles: store.NewFileSiteProfiles(cfg.Stores.SiteProfiles, log),
	}

	switch cfg.LLM.Provider {
	case "ollama":
		a.llm = ai.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model)
	default:
		a.llm = ai.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, log)
	}

	regex, err := pipeline.NewRegexClassifier(
		cfg.Classifier.SinglePatterns,
		cfg.Classifier.ListPatterns,
		cfg.Classifier.OtherPatterns,
		log)
	if err != nil {
		return nil, fmt.Errorf("compile classifier patterns: %w", err)
	}
	a.classifier = pipeline.NewLLMClassifier(a.llm, regex, cfg, log)

	keywords := make(map[string][]string, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		keywords[r.Email] = r.Keywords
	}
	a.matcher = match.NewMatcher(match.NewKeywordIndex(keywords), a.sent, match.Filters{
		ExcludeAlreadySent:      cfg.Matcher.ExcludeAlreadySent,
		ExcludeFailedExtraction: cfg.Matcher.ExcludeFailedExtraction,
		ExcludeExpiredDeadline:  cfg.Matcher.ExcludeExpiredDeadline,
	}, log)

	extractor := pipeline.NewLLMExtractor(a.llm, render.NewCollyRenderer(log), a.profiles, cfg, log)
	a.orchestrator = pipeline.NewExtractionOrchestrator(extractor, a.cache, a.profiles, a.matcher, cfg.Extractor.Workers, a.llm.Model(), log)
	a.pipeline = pipeline.NewPipeline(a.classifier, a.orchestrator, a.matcher, a.seen, log)
	return a, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// readURLs loads one URL per line, skipping blanks and # comments.
// The path "-" reads standard input.
func readURLs(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}
