package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/auth"
	"github.com/david/grant-scout/internal/config"
	"github.com/david/grant-scout/internal/pipeline"
	"github.com/david/grant-scout/internal/store"
)

// Server exposes the operational API: health, store statistics, site
// profiles, and background pipeline runs.
type Server struct {
	Echo     *echo.Echo
	Pipeline *pipeline.Pipeline
	Cache    *store.Cache
	Seen     *store.SeenURLs
	Profiles store.SiteProfiles
	cfg      *config.Config
	log      *zap.Logger

	jobMu sync.Mutex
	jobs  map[string]*backgroundJob
}

// backgroundJob is the live record the run goroutine updates. Every field
// access after creation happens under Server.jobMu; handlers never hand it
// to the JSON encoder directly.
type backgroundJob struct {
	ID          string
	Status      string // running, completed, failed
	TriggeredBy string
	StartedAt   time.Time
	EndedAt     *time.Time
	Result      *pipeline.RunReport
	Error       string
	cancel      context.CancelFunc
}

// jobView is the wire shape of a job: a copy taken under jobMu, safe to
// marshal while the run goroutine keeps writing to the live record.
type jobView struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	TriggeredBy string              `json:"triggered_by,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	EndedAt     *time.Time          `json:"ended_at,omitempty"`
	Result      *pipeline.RunReport `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func (s *Server) viewJob(id string) (jobView, bool) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return jobView{}, false
	}
	return jobView{
		ID:          job.ID,
		Status:      job.Status,
		TriggeredBy: job.TriggeredBy,
		StartedAt:   job.StartedAt,
		EndedAt:     job.EndedAt,
		Result:      job.Result,
		Error:       job.Error,
	}, true
}

func NewServer(p *pipeline.Pipeline, cache *store.Cache, seen *store.SeenURLs, profiles store.SiteProfiles, cfg *config.Config, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Echo:     e,
		Pipeline: p,
		Cache:    cache,
		Seen:     seen,
		Profiles: profiles,
		cfg:      cfg,
		log:      log.With(zap.String("component", "api")),
		jobs:     map[string]*backgroundJob{},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.Use(auth.Middleware([]byte(s.cfg.API.JWTSecret)))
	api.GET("/stats", s.handleStats)
	api.GET("/site-profiles", s.handleListSiteProfiles)
	api.GET("/site-profiles/:domain", s.handleGetSiteProfile)
	api.POST("/runs", s.handleTriggerRun)
	api.GET("/runs/:id", s.handleRunStatus)
}

// Start blocks serving HTTP on the configured port.
func (s *Server) Start() error {
	return s.Echo.Start(":" + s.cfg.API.Port)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"cached_extractions": s.Cache.Len(),
		"seen_urls":          s.Seen.Len(),
		"site_profiles":      len(s.Profiles.All()),
	})
}

func (s *Server) handleListSiteProfiles(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Profiles.All())
}

func (s *Server) handleGetSiteProfile(c echo.Context) error {
	domain := c.Param("domain")
	profile := s.Profiles.Get(domain)
	if profile.Observations == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no observations for domain"})
	}
	return c.JSON(http.StatusOK, profile)
}

type triggerRunRequest struct {
	URLs         []string `json:"urls"`
	IncludeSeen  bool     `json:"include_seen"`
	ForceRefresh bool     `json:"force_refresh"`
	Resume       string   `json:"resume"`
}

func (s *Server) handleTriggerRun(c echo.Context) error {
	var req triggerRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if len(req.URLs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "urls required"})
	}
	resume := pipeline.ResumePolicy(req.Resume)
	switch resume {
	case "", pipeline.ResumeReuse, pipeline.ResumeContinue, pipeline.ResumeRestart:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "resume must be reuse, continue or restart"})
	}

	caller, err := auth.CallerIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing caller identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &backgroundJob{
		ID:          uuid.New().String(),
		Status:      "running",
		TriggeredBy: caller.String(),
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	jobID := job.ID
	s.jobMu.Lock()
	s.jobs[jobID] = job
	s.jobMu.Unlock()
	s.log.Info("run triggered",
		zap.String("job_id", jobID),
		zap.String("caller_id", caller.String()),
		zap.Int("urls", len(req.URLs)))

	go func() {
		defer cancel()
		report, err := s.Pipeline.Run(ctx, req.URLs, pipeline.RunOptions{
			IncludeSeen:  req.IncludeSeen,
			ForceRefresh: req.ForceRefresh,
			Resume:       resume,
		})

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		now := time.Now()
		job.EndedAt = &now
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			s.log.Error("background run failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		job.Status = "completed"
		job.Result = report
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID, "status": "running"})
}

func (s *Server) handleRunStatus(c echo.Context) error {
	view, ok := s.viewJob(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown job"})
	}
	return c.JSON(http.StatusOK, view)
}

// Shutdown stops the server and cancels any running job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	for _, job := range s.jobs {
		if job.Status == "running" && job.cancel != nil {
			job.cancel()
		}
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

