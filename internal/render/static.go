package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StaticRenderer is a plain HTTP implementation of Renderer for simple
// sources and tests. No reveal simulation, no attachment scan.
type StaticRenderer struct {
	Client    *http.Client
	UserAgent string
}

func NewStaticRenderer() *StaticRenderer {
	return &StaticRenderer{
		Client:    &http.Client{},
		UserAgent: defaultUserAgent,
	}
}

func (r *StaticRenderer) Render(ctx context.Context, url string, opts Options) (Page, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	return Page{HTML: string(body)}, nil
}
