package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/config"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/health"
	"github.com/teslashibe/go-soundcheck/internal/server"
	"github.com/teslashibe/go-soundcheck/internal/uplink"
)

var serveNoCapture bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and event stream",
	Long: `Serve the analysis API over HTTP.

Every report is archived in the store, broadcast on /api/events and, when
uplink.url is set, published to the remote collector. Live capture is
available when the DOA source opens; otherwise the server runs without it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoCapture, "no-capture", false, "do not open the DOA source")
}

func serve() error {
	logger.Info("starting soundcheck",
		"version", Version,
		"config", configPath,
		"port", cfg.Server.Port,
	)

	ctx, cancel := signalContext()
	defer cancel()

	runner, err := newRunner()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	checker := health.NewChecker(Version)
	checker.Register("store", true, func() (bool, string) {
		if err := st.Ping(); err != nil {
			return false, err.Error()
		}
		return true, ""
	})

	var recorder *doa.Recorder
	if !serveNoCapture {
		recorder, err = newRecorder("")
		if err != nil {
			logger.Warn("live capture disabled", "error", err)
		} else {
			defer recorder.Close()
			source := recorder.Source()
			checker.Register("capture", false, func() (bool, string) {
				if source.Healthy() {
					return true, source.Name()
				}
				return false, source.Name() + " not responding"
			})
		}
	}

	var onReport func(analysis.Report)
	if cfg.Uplink.URL != "" {
		hostname, _ := os.Hostname()
		pub := uplink.NewPublisher(uplink.Config{
			URL:              cfg.Uplink.URL,
			Name:             hostname,
			Version:          Version,
			ReconnectBackoff: cfg.Uplink.ReconnectBackoff,
			MaxBackoff:       cfg.Uplink.MaxBackoff,
			PingInterval:     cfg.Uplink.PingInterval,
			WriteTimeout:     cfg.Uplink.WriteTimeout,
		}, logger)
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		defer pub.Close()

		onReport = pub.PublishReport
		checker.Register("uplink", false, func() (bool, string) {
			stats := pub.GetStats()
			if !stats.Connected {
				return false, fmt.Sprintf("disconnected, %d queued", stats.Queued)
			}
			return true, ""
		})
	}

	srv := server.New(cfg.Server, server.Deps{
		Runner:   runner,
		Store:    st,
		Recorder: recorder,
		Health:   checker,
		Config:   cfg,
		OnReport: onReport,
	}, logger, Version)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, Version)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Server first; deferred closes then stop uplink, capture and store
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("soundcheck stopped")
	return nil
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🎙  soundcheck v" + version)
	fmt.Println("   Speech capture quality and DOA analysis")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   POST /api/quality         - Align and score a reference/degraded pair")
	fmt.Println("   POST /api/quality/batch   - Score many captures against one reference")
	fmt.Println("   POST /api/doa             - Decode an SSL channel")
	fmt.Println("   POST /api/doa/live        - Record and evaluate live DOA")
	fmt.Println("   GET  /api/reports         - Archived reports")
	fmt.Println("   WS   /api/events          - Report and reading stream")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
