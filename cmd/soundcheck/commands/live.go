package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
)

var (
	liveSource   string
	liveDuration time.Duration
	liveSave     bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Record DOA from the microphone array and evaluate it",
	Long: `Poll the XVF3800 DOA register for a fixed duration and evaluate the
recorded azimuth stream like an SSL channel sampled at capture.poll_hz.

Use --source mock to exercise the pipeline without hardware.

Example:
  soundcheck live --duration 30s --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}

		rec, err := newRecorder(liveSource)
		if err != nil {
			return err
		}
		defer rec.Close()

		duration := liveDuration
		if duration <= 0 {
			duration = cfg.Capture.Duration
		}

		ctx, stop := signalContext()
		defer stop()

		logger.Info("recording", "source", rec.Source().Name(), "duration", duration)
		rep, err := runner.Live(ctx, rec, duration)
		if err != nil {
			return err
		}
		return finish(ctx, []analysis.Report{rep}, liveSave)
	},
}

func init() {
	liveCmd.Flags().StringVar(&liveSource, "source", "", "doa source: usb, mock, auto (default from config)")
	liveCmd.Flags().DurationVar(&liveDuration, "duration", 0, "capture length (default from config)")
	liveCmd.Flags().BoolVar(&liveSave, "save", false, "archive the report in the store")
}
