package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	rpdf "rsc.io/pdf"
)

// pdfDeadlineScanner pulls a call-document PDF and runs the deadline
// fallback over its text. It is last-resort evidence, consulted only when
// both the model and the HTML fallback came up empty.
type pdfDeadlineScanner struct {
	client   *http.Client
	fallback *DeadlineRegexFallback
	log      *zap.Logger
}

func newPDFDeadlineScanner(fallback *DeadlineRegexFallback, log *zap.Logger) *pdfDeadlineScanner {
	return &pdfDeadlineScanner{
		client:   &http.Client{Timeout: 20 * time.Second},
		fallback: fallback,
		log:      log.With(zap.String("component", "pdf_deadline")),
	}
}

// Scan fetches pdfURL and returns a deadline found in its text, or nil.
// Every failure degrades to "no evidence".
func (s *pdfDeadlineScanner) Scan(ctx context.Context, pdfURL string) *string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("pdf fetch failed", zap.String("url", pdfURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return nil
	}

	text, err := extractPDFText(content)
	if err != nil {
		s.log.Debug("pdf text extraction failed", zap.String("url", pdfURL), zap.Error(err))
		return nil
	}
	return s.fallback.Find(text)
}

// extractPDFText reads every page's text fragments. The pdf package can
// panic on malformed files, so the panic is converted to an error.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
