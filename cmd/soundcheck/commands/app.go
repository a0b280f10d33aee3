package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/align"
	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/config"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/report"
	"github.com/teslashibe/go-soundcheck/internal/resample"
	"github.com/teslashibe/go-soundcheck/internal/store"
	"github.com/teslashibe/go-soundcheck/internal/xvf3800"
)

// runnerConfig maps configuration onto the analysis runner
func runnerConfig(c *config.Config) (analysis.Config, error) {
	engine, err := resample.ParseEngine(c.Alignment.ResampleEngine)
	if err != nil {
		return analysis.Config{}, err
	}

	return analysis.Config{
		Pipeline: align.PipelineConfig{
			Tolerance:   c.Alignment.Tolerance(),
			ScoringRate: c.Alignment.ScoringRate,
			Engine:      engine,
		},
		Metrics: c.Scoring.Metrics,
		DOA: doa.AnalyzerConfig{
			DivideGap:   seconds(c.DOA.DivideSeconds),
			MinBlock:    seconds(c.DOA.MinBlockSeconds),
			MinDuration: seconds(c.DOA.MinStreamSeconds),
			Eval: doa.EvalConfig{
				AngleErrorDeg:    c.DOA.AngleErrorDeg,
				InvalidAllowance: c.DOA.InvalidAllowance,
			},
		},
		Workers: c.Batch.Workers,
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newRunner() (*analysis.Runner, error) {
	rc, err := runnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return analysis.NewRunner(rc, logger)
}

// newRecorder opens the configured DOA source. kind overrides the
// configured source when set.
func newRecorder(kind string) (*doa.Recorder, error) {
	if kind == "" {
		kind = cfg.Capture.Source
	}

	source, err := xvf3800.NewSource(xvf3800.Options{
		Kind: kind,
		USB: xvf3800.USBSourceConfig{
			MaxConsecutiveErrors: cfg.Capture.USB.MaxConsecutiveErrors,
			InitialBackoff:       cfg.Capture.USB.InitialBackoff,
			MaxBackoff:           cfg.Capture.USB.MaxBackoff,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open doa source: %w", err)
	}

	logger.Info("DOA source ready",
		"type", source.Name(),
		"healthy", source.Healthy(),
	)

	return doa.NewRecorder(source, doa.RecorderConfig{
		PollInterval:         cfg.Capture.PollInterval(),
		MaxConsecutiveErrors: cfg.Capture.USB.MaxConsecutiveErrors,
	}, logger), nil
}

func openStore() (*store.Store, error) {
	return store.Open(store.Options{
		Dir:      cfg.Store.Dir,
		InMemory: cfg.Store.InMemory,
	}, logger)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// finish prints reports, optionally archives them, and fails the command
// when any report could not be produced
func finish(ctx context.Context, reports []analysis.Report, save bool) error {
	if save {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.PutAll(ctx, reports); err != nil {
			return err
		}
		logger.Info("reports archived", "count", len(reports), "dir", cfg.Store.Dir)
	}

	if err := report.Write(os.Stdout, reports, format); err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		if r.Status() == analysis.StatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(reports))
	}
	return nil
}
