package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: anthropic
  model: test-model
  api_key: ${TEST_API_KEY}
classifier:
  prompt: "classify:\n%s"
extractor:
  prompt: "extract from %s:\n%s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("api key = %q, want expanded env value", cfg.LLM.APIKey)
	}
	if cfg.Classifier.BatchSize != 50 {
		t.Errorf("batch size = %d, want default 50", cfg.Classifier.BatchSize)
	}
	if cfg.Extractor.Workers != 10 {
		t.Errorf("workers = %d, want default 10", cfg.Extractor.Workers)
	}
	if cfg.Extractor.PageTimeoutSeconds != 8 || cfg.Extractor.MaxPageTimeout != 15 {
		t.Errorf("page timeouts = %d/%d, want defaults 8/15",
			cfg.Extractor.PageTimeoutSeconds, cfg.Extractor.MaxPageTimeout)
	}
	if cfg.Stores.Cache != "data/extraction_cache.json" {
		t.Errorf("cache path = %q, want derived default", cfg.Stores.Cache)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFallsBackToEmbedded(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file must use the embedded config: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want embedded default", cfg.LLM.Provider)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.Model = "m"
		cfg.LLM.APIKey = "k"
		cfg.Classifier.Prompt = "%s"
		cfg.Extractor.Prompt = "%s %s"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing classifier prompt", func(c *Config) { c.Classifier.Prompt = " " }},
		{"missing extractor prompt", func(c *Config) { c.Extractor.Prompt = "" }},
		{"anthropic without api key", func(c *Config) { c.LLM.APIKey = "" }},
		{"ollama without base url", func(c *Config) { c.LLM.Provider = "ollama"; c.LLM.BaseURL = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gpt" }},
		{"missing model", func(c *Config) { c.LLM.Model = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate must fail")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
