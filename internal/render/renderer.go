package render

import (
	"context"
	"time"
)

// Options tunes how a single page is rendered. The values come from the
// per-domain site profile plus any source-adapter override.
type Options struct {
	// Timeout bounds the whole page load.
	Timeout time.Duration
	// RevealClicks is the budget for expanding hidden content before the
	// final HTML is read.
	RevealClicks int
	// SettleWait is an extra pause after load for late JavaScript content.
	SettleWait time.Duration
	// ExtraScrollPasses forces additional scrolls to trigger lazy loading.
	ExtraScrollPasses int
}

// Page is the rendered result handed to extraction.
type Page struct {
	HTML string
	// PDFLinks are attachment URLs discovered on the page, in document
	// order, used as extra deadline evidence.
	PDFLinks []string
	// Clicked reports how many hidden-content elements were revealed.
	Clicked int
}

// Renderer turns a URL into final page HTML. Implementations own all
// fetching mechanics; callers only choose budgets through Options.
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (Page, error)
}
