package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// OllamaClient backs Client with a local Ollama instance, for running the
// pipeline without an API key.
type OllamaClient struct {
	BaseURL  string
	GenModel string
	http     *http.Client
}

func NewOllamaClient(baseURL, genModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if genModel == "" {
		genModel = "llama3.2:latest"
	}
	return &OllamaClient{
		BaseURL:  baseURL,
		GenModel: genModel,
		http:     &http.Client{},
	}
}

func (c *OllamaClient) Model() string { return c.GenModel }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaClient) Chat(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqBody := generateRequest{
		Model:   c.GenModel,
		Prompt:  user,
		System:  system,
		Format:  "json",
		Stream:  false,
		Options: map[string]any{"temperature": temperature},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "ollama: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", eris.Wrap(err, "ollama: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ollama: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &apiError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("ollama returned status %d", resp.StatusCode),
		}
	}

	var parsedResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResp); err != nil {
		return "", eris.Wrap(err, "ollama: decode response")
	}
	return parsedResp.Response, nil
}
