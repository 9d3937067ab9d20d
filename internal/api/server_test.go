package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/pipeline"
	"github.com/david/grant-scout/internal/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	cfg := &config.Config{}
	cfg.API.Port = "0"
	cfg.API.JWTSecret = testSecret

	cache := store.NewCache(filepath.Join(dir, "cache.json"), log)
	seen := store.NewSeenURLs(filepath.Join(dir, "seen.json"), log)
	profiles := store.NewFileSiteProfiles(filepath.Join(dir, "profiles.json"), log)
	return NewServer(nil, cache, seen, profiles, cfg, log)
}

func bearerToken(t *testing.T) string {
	t.Helper()
	return bearerTokenFor(t, uuid.New().String())
}

func bearerTokenFor(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + signed
}

type stubLLM struct{}

func (stubLLM) Chat(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error) {
	return "[]", nil
}

func (stubLLM) Model() string { return "stub-model" }

// slowExtractor keeps the background run in flight long enough for the
// status endpoint to be polled mid-run.
type slowExtractor struct{ delay time.Duration }

func (e slowExtractor) ExtractObserved(ctx context.Context, url string) (models.ExtractedGrant, store.Observation, string) {
	time.Sleep(e.delay)
	return models.ExtractedGrant{
		URL:               url,
		ExtractionSuccess: true,
		IsGrant:           true,
	}, store.Observation{DeadlineFound: true}, "x.org"
}

// newRunTestServer wires a server over a real pipeline: the built-in URL
// patterns classify /bando/ links without touching the model stub.
func newRunTestServer(t *testing.T, delay time.Duration) *Server {
	t.Helper()
	dir := t.TempDir()
	log := zap.NewNop()

	cfg := &config.Config{}
	cfg.API.Port = "0"
	cfg.API.JWTSecret = testSecret
	cfg.Classifier.BatchSize = 10

	cache := store.NewCache(filepath.Join(dir, "cache.json"), log)
	seen := store.NewSeenURLs(filepath.Join(dir, "seen.json"), log)
	profiles := store.NewFileSiteProfiles(filepath.Join(dir, "profiles.json"), log)

	regex, err := pipeline.NewRegexClassifier(nil, nil, nil, log)
	if err != nil {
		t.Fatal(err)
	}
	classifier := pipeline.NewLLMClassifier(stubLLM{}, regex, cfg, log)
	matcher := match.NewMatcher(match.NewKeywordIndex(map[string][]string{"ops@x.org": {"bando"}}), nil, match.Filters{}, log)
	orch := pipeline.NewExtractionOrchestrator(slowExtractor{delay: delay}, cache, profiles, matcher, 2, "stub-model", log)
	p := pipeline.NewPipeline(classifier, orch, matcher, seen, log)

	return NewServer(p, cache, seen, profiles, cfg, log)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a token", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid token: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "cached_extractions") {
		t.Errorf("body = %s, want store counters", rec.Body)
	}
}

func TestSiteProfileNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/site-profiles/unknown.org", nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a domain with no observations", rec.Code)
	}
}

func TestSiteProfileFound(t *testing.T) {
	s := newTestServer(t)
	if err := s.Profiles.Upsert("x.org", store.Observation{DeadlineFound: true}); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/site-profiles/x.org", nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"observations": 1`) && !strings.Contains(rec.Body.String(), `"observations":1`) {
		t.Errorf("body = %s, want the stored profile", rec.Body)
	}
}

func TestTriggerRunValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"no urls", `{"urls": []}`},
		{"bad resume", `{"urls": ["https://x.org"], "resume": "maybe"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))
			req.Header.Set("Authorization", bearerToken(t))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.Echo.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestRunStatusConcurrentPolling(t *testing.T) {
	s := newRunTestServer(t, 30*time.Millisecond)
	caller := uuid.New().String()
	token := bearerTokenFor(t, caller)

	body := `{"urls": ["https://x.org/bando/1", "https://x.org/bando/2", "https://x.org/bando/3"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	var accepted map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	jobID := accepted["job_id"]
	if jobID == "" || accepted["status"] != "running" {
		t.Fatalf("accepted response = %v", accepted)
	}

	poll := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+jobID, nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		s.Echo.ServeHTTP(rec, req)
		return rec
	}

	// Hammer the status endpoint from several goroutines while the run
	// goroutine is still updating the job record.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				rec := poll()
				if rec.Code != http.StatusOK {
					t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body)
					return
				}
				if strings.Contains(rec.Body.String(), `"completed"`) {
					return
				}
				time.Sleep(2 * time.Millisecond)
			}
			t.Error("run never reached completed")
		}()
	}
	wg.Wait()

	final := poll().Body.String()
	if !strings.Contains(final, `"completed"`) {
		t.Fatalf("final job state = %s, want completed", final)
	}
	if !strings.Contains(final, `"result"`) {
		t.Errorf("final job state = %s, want an embedded run report", final)
	}
	if !strings.Contains(final, caller) {
		t.Errorf("final job state = %s, want triggered_by = %s", final, caller)
	}
}

func TestRunStatusUnknownJob(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+uuid.New().String(), nil)
	req.Header.Set("Authorization", bearerToken(t))
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown job", rec.Code)
	}
}
