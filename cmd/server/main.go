package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/ai"
	"github.com/david/grant-scout/internal/api"
	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/pipeline"
	"github.com/david/grant-scout/internal/render"
	"github.com/david/grant-scout/internal/store"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.API.Port = port
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	cache := store.NewCache(cfg.Stores.Cache, logger)
	seen := store.NewSeenURLs(cfg.Stores.SeenURLs, logger)
	sent := store.NewSentGrants(cfg.Stores.SentGrants, logger)
	profiles := store.NewFileSiteProfiles(cfg.Stores.SiteProfiles, logger)

	var llm ai.Client
	switch cfg.LLM.Provider {
	case "ollama":
		llm = ai.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model)
	default:
		llm = ai.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, logger)
	}

	regex, err := pipeline.NewRegexClassifier(
		cfg.Classifier.SinglePatterns,
		cfg.Classifier.ListPatterns,
		cfg.Classifier.OtherPatterns,
		logger)
	if err != nil {
		log.Fatalf("Failed to compile classifier patterns: %v", err)
	}
	classifier := pipeline.NewLLMClassifier(llm, regex, cfg, logger)

	keywords := make(map[string][]string, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		keywords[r.Email] = r.Keywords
	}
	matcher := match.NewMatcher(match.NewKeywordIndex(keywords), sent, match.Filters{
		ExcludeAlreadySent:      cfg.Matcher.ExcludeAlreadySent,
		ExcludeFailedExtraction: cfg.Matcher.ExcludeFailedExtraction,
		ExcludeExpiredDeadline:  cfg.Matcher.ExcludeExpiredDeadline,
	}, logger)

	extractor := pipeline.NewLLMExtractor(llm, render.NewCollyRenderer(logger), profiles, cfg, logger)
	orchestrator := pipeline.NewExtractionOrchestrator(extractor, cache, profiles, matcher, cfg.Extractor.Workers, llm.Model(), logger)
	pipe := pipeline.NewPipeline(classifier, orchestrator, matcher, seen, logger)

	srv := api.NewServer(pipe, cache, seen, profiles, cfg, logger)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.API.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
