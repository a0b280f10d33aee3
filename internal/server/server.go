// Package server provides the HTTP API for soundcheck
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/config"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/health"
	"github.com/teslashibe/go-soundcheck/internal/protocol"
	"github.com/teslashibe/go-soundcheck/internal/store"
)

// maxLiveDuration caps a single live capture request
const maxLiveDuration = 5 * time.Minute

// Deps are the components the API serves. Store and Recorder are optional.
type Deps struct {
	Runner   *analysis.Runner
	Store    *store.Store
	Recorder *doa.Recorder
	Health   *health.Checker
	// Config is exposed read-only on /api/config
	Config *config.Config
	// OnReport receives every report after it is stored and broadcast
	OnReport func(analysis.Report)
}

// Server is the HTTP server for soundcheck
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	deps      Deps
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string

	mu     sync.Mutex
	counts map[string]int64 // reports by kind/status
}

// New creates a new HTTP server and routes the runner's reports through it
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "soundcheck",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             max(cfg.BodyLimitMB, 1) * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		wsHub:     NewWSHub(deps.Recorder, logger),
		startTime: time.Now(),
		version:   version,
		counts:    make(map[string]int64),
	}

	if deps.Runner != nil {
		deps.Runner.OnReport(s.Publish)
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	api.Post("/quality", s.qualityHandler)
	api.Post("/quality/batch", s.qualityBatchHandler)
	api.Post("/doa", s.doaHandler)
	api.Post("/doa/live", s.liveHandler)

	api.Get("/reports", s.listReportsHandler)
	api.Get("/reports/:id", s.getReportHandler)

	api.Get("/events", s.wsHub.UpgradeHandler())

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

// Publish archives a report and pushes it to websocket clients. The runner
// calls it for every report, including those from batch workers.
func (s *Server) Publish(rep analysis.Report) {
	s.mu.Lock()
	s.counts[string(rep.Kind)+"/"+rep.Status()]++
	s.mu.Unlock()

	if s.deps.Store != nil {
		if err := s.deps.Store.Put(context.Background(), rep); err != nil {
			s.logger.Warn("failed to archive report", "id", rep.ID, "error", err)
		}
	}

	msg, err := protocol.NewReportMessage(rep)
	if err != nil {
		s.logger.Warn("failed to encode report event", "id", rep.ID, "error", err)
	} else {
		s.wsHub.Broadcast(msg)
	}

	if s.deps.OnReport != nil {
		s.deps.OnReport(rep)
	}
}

func apiError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.deps.Health.GetStatus()
	code := fiber.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(status)
}

// qualityHandler aligns and scores an uploaded reference/degraded pair
func (s *Server) qualityHandler(c *fiber.Ctx) error {
	if s.deps.Runner == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "analysis runner not available")
	}

	channel, err := strconv.Atoi(c.FormValue("channel", "0"))
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "channel must be an integer")
	}

	refName, ref, err := formWAV(c, "reference")
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, err.Error())
	}
	degName, deg, err := formWAV(c, "degraded")
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, err.Error())
	}

	ref, err = ref.Channel(0)
	if err != nil {
		return apiError(c, fiber.StatusUnprocessableEntity, "reference: "+err.Error())
	}
	deg, err = deg.Channel(channel)
	if err != nil {
		return apiError(c, fiber.StatusUnprocessableEntity, "degraded: "+err.Error())
	}

	return c.JSON(s.deps.Runner.QualityBuffers(refName, degName, ref, deg))
}

// qualityBatchHandler scores every uploaded degraded capture against one
// reference on the runner's worker pool
func (s *Server) qualityBatchHandler(c *fiber.Ctx) error {
	if s.deps.Runner == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "analysis runner not available")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "multipart form required")
	}
	refs, degraded := form.File["reference"], form.File["degraded"]
	if len(refs) != 1 || len(degraded) == 0 {
		return apiError(c, fiber.StatusBadRequest, "one reference and at least one degraded file required")
	}
	channel, err := strconv.Atoi(c.FormValue("channel", "0"))
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "channel must be an integer")
	}

	dir, err := os.MkdirTemp("", "soundcheck-batch-")
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err.Error())
	}
	defer os.RemoveAll(dir)

	refPath := filepath.Join(dir, "reference.wav")
	if err := c.SaveFile(refs[0], refPath); err != nil {
		return apiError(c, fiber.StatusInternalServerError, err.Error())
	}

	jobs := make([]analysis.QualityJob, len(degraded))
	for i, fh := range degraded {
		path := filepath.Join(dir, fmt.Sprintf("%03d-%s", i, filepath.Base(fh.Filename)))
		if err := c.SaveFile(fh, path); err != nil {
			return apiError(c, fiber.StatusInternalServerError, err.Error())
		}
		jobs[i] = analysis.QualityJob{
			Reference:      refPath,
			Degraded:       path,
			Channel:        channel,
			ReferenceLabel: refs[0].Filename,
			DegradedLabel:  fh.Filename,
		}
	}

	reports := s.deps.Runner.RunQuality(c.UserContext(), jobs)

	if msg, err := protocol.NewBatchDoneMessage(analysis.KindQuality, reports); err == nil {
		s.wsHub.Broadcast(msg)
	}

	return c.JSON(fiber.Map{
		"summary": analysis.Summarize(reports),
		"reports": reports,
	})
}

// doaHandler decodes the SSL channel of an uploaded capture
func (s *Server) doaHandler(c *fiber.Ctx) error {
	if s.deps.Runner == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "analysis runner not available")
	}

	channel, err := strconv.Atoi(c.FormValue("channel", strconv.Itoa(analysis.LastChannel)))
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "channel must be an integer")
	}

	name, buf, err := formWAV(c, "file")
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(s.deps.Runner.DOABuffer(name, buf, channel))
}

// liveHandler records from the capture source and analyzes the result
func (s *Server) liveHandler(c *fiber.Ctx) error {
	if s.deps.Runner == nil || s.deps.Recorder == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "live capture not available")
	}

	duration := 10 * time.Second
	if s.deps.Config != nil {
		duration = s.deps.Config.Capture.Duration
	}
	if q := c.Query("duration"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 || d > maxLiveDuration {
			return apiError(c, fiber.StatusBadRequest,
				fmt.Sprintf("duration must be a positive duration up to %s", maxLiveDuration))
		}
		duration = d
	}

	rep, err := s.deps.Runner.Live(c.UserContext(), s.deps.Recorder, duration)
	switch {
	case errors.Is(err, doa.ErrBusy):
		return apiError(c, fiber.StatusConflict, "a capture is already running")
	case errors.Is(err, doa.ErrSourceFailing):
		return apiError(c, fiber.StatusBadGateway, err.Error())
	case err != nil:
		return apiError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(rep)
}

// listReportsHandler lists archived reports, newest first
func (s *Server) listReportsHandler(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "report store not available")
	}

	f := store.Filter{
		Kind:  analysis.Kind(c.Query("kind")),
		Limit: c.QueryInt("limit", 100),
	}
	switch f.Kind {
	case "", analysis.KindQuality, analysis.KindDOA:
	default:
		return apiError(c, fiber.StatusBadRequest, "kind must be quality or doa")
	}

	reports, err := s.deps.Store.List(c.UserContext(), f)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err.Error())
	}
	if reports == nil {
		reports = []analysis.Report{}
	}
	return c.JSON(fiber.Map{
		"count":   len(reports),
		"reports": reports,
	})
}

// getReportHandler returns one archived report
func (s *Server) getReportHandler(c *fiber.Ctx) error {
	if s.deps.Store == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "report store not available")
	}

	rep, err := s.deps.Store.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return apiError(c, fiber.StatusNotFound, "report not found")
	}
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(rep)
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
			"body_limit_mb":    s.cfg.BodyLimitMB,
		},
	}
	if cfg := s.deps.Config; cfg != nil {
		out["alignment"] = fiber.Map{
			"tolerance_seconds": cfg.Alignment.ToleranceSeconds,
			"scoring_rate":      cfg.Alignment.ScoringRate,
			"resample_engine":   cfg.Alignment.ResampleEngine,
		}
		out["scoring"] = fiber.Map{"metrics": cfg.Scoring.Metrics}
		out["doa"] = fiber.Map{
			"divide_seconds":     cfg.DOA.DivideSeconds,
			"min_block_seconds":  cfg.DOA.MinBlockSeconds,
			"min_stream_seconds": cfg.DOA.MinStreamSeconds,
			"angle_error_deg":    cfg.DOA.AngleErrorDeg,
			"invalid_allowance":  cfg.DOA.InvalidAllowance,
		}
		out["capture"] = fiber.Map{
			"source":      cfg.Capture.Source,
			"poll_hz":     cfg.Capture.PollHz,
			"duration_ms": cfg.Capture.Duration.Milliseconds(),
		}
	}
	return c.JSON(out)
}

// statsHandler returns recorder statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.deps.Recorder == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "recorder not available")
	}
	return c.JSON(s.deps.Recorder.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	var b strings.Builder

	b.WriteString("# HELP soundcheck_reports_total Reports produced by kind and status\n")
	b.WriteString("# TYPE soundcheck_reports_total counter\n")
	s.mu.Lock()
	for key, n := range s.counts {
		kind, status, _ := strings.Cut(key, "/")
		fmt.Fprintf(&b, "soundcheck_reports_total{kind=%q,status=%q} %d\n", kind, status, n)
	}
	s.mu.Unlock()

	if s.deps.Recorder != nil {
		stats := s.deps.Recorder.Stats()
		fmt.Fprintf(&b, `
# HELP soundcheck_poll_count Total DOA polls
# TYPE soundcheck_poll_count counter
soundcheck_poll_count %d

# HELP soundcheck_poll_errors Total DOA poll errors
# TYPE soundcheck_poll_errors counter
soundcheck_poll_errors %d

# HELP soundcheck_avg_latency_ms Average poll latency in milliseconds
# TYPE soundcheck_avg_latency_ms gauge
soundcheck_avg_latency_ms %f

# HELP soundcheck_source_healthy DOA source health (1=healthy, 0=unhealthy)
# TYPE soundcheck_source_healthy gauge
soundcheck_source_healthy %d
`,
			stats.PollCount,
			stats.ErrorCount,
			stats.AvgLatencyMs,
			boolToInt(stats.SourceHealthy),
		)
	}

	fmt.Fprintf(&b, `
# HELP soundcheck_uptime_seconds Server uptime in seconds
# TYPE soundcheck_uptime_seconds gauge
soundcheck_uptime_seconds %d

# HELP soundcheck_websocket_clients Current WebSocket client count
# TYPE soundcheck_websocket_clients gauge
soundcheck_websocket_clients %d
`,
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(b.String())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formWAV decodes the multipart file field as WAV
func formWAV(c *fiber.Ctx, field string) (string, audio.Buffer, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", audio.Buffer{}, fmt.Errorf("missing file field %q", field)
	}
	buf, err := decodeUpload(fh)
	if err != nil {
		return "", audio.Buffer{}, fmt.Errorf("%s: %w", field, err)
	}
	return fh.Filename, buf, nil
}

func decodeUpload(fh *multipart.FileHeader) (audio.Buffer, error) {
	f, err := fh.Open()
	if err != nil {
		return audio.Buffer{}, err
	}
	defer f.Close()
	return audio.DecodeWAV(f)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
