package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/render"
)

// fakeLLM scripts model replies and counts invocations.
type fakeLLM struct {
	mu        sync.Mutex
	calls     int
	responses []string
	errs      []error
	fn        func(user string) (string, error)
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Chat(_ context.Context, _, user string, _ float64, _ time.Duration) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(user)
	}
	if call < len(f.errs) && f.errs[call] != nil {
		return "", f.errs[call]
	}
	if call < len(f.responses) {
		return f.responses[call], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRenderer serves canned HTML per URL.
type fakeRenderer struct {
	pages map[string]render.Page
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, url string, _ render.Options) (render.Page, error) {
	if f.err != nil {
		return render.Page{}, f.err
	}
	return f.pages[url], nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "fake-model"
	cfg.LLM.APIKey = "test"
	cfg.LLM.TimeoutSeconds = 1
	cfg.Classifier.BatchSize = 2
	cfg.Classifier.SystemPrompt = "classify"
	cfg.Classifier.Prompt = "classify these:\n%s"
	cfg.Extractor.Workers = 2
	cfg.Extractor.SystemPrompt = "extract"
	cfg.Extractor.Prompt = "extract from %s:\n%s"
	cfg.Extractor.MaxHTMLChars = 15000
	cfg.Extractor.PageTimeoutSeconds = 8
	cfg.Extractor.MaxPageTimeout = 15
	return cfg
}
