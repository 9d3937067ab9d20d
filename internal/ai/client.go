package ai

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Client is the single surface the pipeline uses to talk to a language
// model. Prompt construction and all response parsing belong to callers.
type Client interface {
	// Chat sends a system+user prompt pair and returns the raw text reply.
	Chat(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error)
	// Model identifies the underlying model for persisted output metadata.
	Model() string
}

// apiError marks a transport-level failure from a model backend, keeping
// the HTTP status around for retry classification.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

// IsRetryable reports whether err is a rate-limit or transient backend
// failure worth retrying with backoff. Parsing and rendering errors are
// deliberately not retryable.
func IsRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status == http.StatusTooManyRequests || ae.status >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429")
}

// Backoff returns the wait before retry attempt n (0-based): exponential
// with multiplier 2, floored at 2s, capped at 10s, plus a little jitter.
func Backoff(attempt int) time.Duration {
	wait := (2 * time.Second) << attempt
	if wait > 10*time.Second {
		wait = 10 * time.Second
	}
	return wait + time.Duration(rand.Intn(250))*time.Millisecond
}
