package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultYAML embed.FS

// Config is the single process-wide configuration, loaded once at startup
// and passed explicitly to every component that needs it.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Stores     StoreConfig      `yaml:"stores"`
	Recipients []Recipient      `yaml:"recipients"`
	API        APIConfig        `yaml:"api"`
}

// LLMConfig selects and tunes the model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" or "ollama"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"` // ollama only
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// TimeoutSeconds bounds a single model call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type ClassifierConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	SystemPrompt string `yaml:"system_prompt"`
	Prompt       string `yaml:"prompt"`
	// Pattern families for the regex pass. Empty slices fall back to the
	// built-in defaults in the pipeline package.
	SinglePatterns []string `yaml:"single_patterns"`
	ListPatterns   []string `yaml:"list_patterns"`
	OtherPatterns  []string `yaml:"other_patterns"`
}

type ExtractorConfig struct {
	Workers            int    `yaml:"workers"`
	SystemPrompt       string `yaml:"system_prompt"`
	Prompt             string `yaml:"prompt"`
	MaxHTMLChars       int    `yaml:"max_html_chars"`
	PageTimeoutSeconds int    `yaml:"page_timeout_seconds"`
	MaxPageTimeout     int    `yaml:"max_page_timeout_seconds"`
	ScanPDFAttachments bool   `yaml:"scan_pdf_attachments"`
}

type MatcherConfig struct {
	ExcludeAlreadySent      bool `yaml:"exclude_already_sent"`
	ExcludeFailedExtraction bool `yaml:"exclude_failed_extraction"`
	ExcludeExpiredDeadline  bool `yaml:"exclude_expired_deadline"`
}

// StoreConfig holds the file paths of the persistent JSON stores.
type StoreConfig struct {
	Dir          string `yaml:"dir"`
	Cache        string `yaml:"cache"`
	SeenURLs     string `yaml:"seen_urls"`
	SentGrants   string `yaml:"sent_grants"`
	SiteProfiles string `yaml:"site_profiles"`
}

type Recipient struct {
	Email    string   `yaml:"email"`
	Keywords []string `yaml:"keywords"`
}

type APIConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads the embedded config.yaml, falling back to the given path for
// local overrides. Environment variables referenced as ${VAR} are expanded
// before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		data, err = defaultYAML.ReadFile("config.yaml")
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.Classifier.BatchSize == 0 {
		c.Classifier.BatchSize = 50
	}
	if c.Extractor.Workers == 0 {
		c.Extractor.Workers = 10
	}
	if c.Extractor.MaxHTMLChars == 0 {
		c.Extractor.MaxHTMLChars = 15000
	}
	if c.Extractor.PageTimeoutSeconds == 0 {
		c.Extractor.PageTimeoutSeconds = 8
	}
	if c.Extractor.MaxPageTimeout == 0 {
		c.Extractor.MaxPageTimeout = 15
	}
	if c.Stores.Dir == "" {
		c.Stores.Dir = "data"
	}
	if c.Stores.Cache == "" {
		c.Stores.Cache = c.Stores.Dir + "/extraction_cache.json"
	}
	if c.Stores.SeenURLs == "" {
		c.Stores.SeenURLs = c.Stores.Dir + "/seen_urls.json"
	}
	if c.Stores.SentGrants == "" {
		c.Stores.SentGrants = c.Stores.Dir + "/sent_grants.json"
	}
	if c.Stores.SiteProfiles == "" {
		c.Stores.SiteProfiles = c.Stores.Dir + "/site_profiles.json"
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
}

// Validate is the only fatal gate in the system: a config that fails here
// aborts the process before any URL is touched.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Classifier.Prompt) == "" {
		return fmt.Errorf("classifier prompt template is required")
	}
	if strings.TrimSpace(c.Extractor.Prompt) == "" {
		return fmt.Errorf("extractor prompt template is required")
	}
	switch c.LLM.Provider {
	case "anthropic":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return fmt.Errorf("llm.api_key is required for the anthropic provider")
		}
	case "ollama":
		if strings.TrimSpace(c.LLM.BaseURL) == "" {
			return fmt.Errorf("llm.base_url is required for the ollama provider")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// LLMTimeout returns the per-call model timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
