package commands

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
)

var (
	doaChannel int
	doaSave    bool
)

var doaCmd = &cobra.Command{
	Use:   "doa <capture.wav...>",
	Short: "Decode and evaluate the SSL channel of captures",
	Long: `Decode the SSL channel of each capture into azimuth blocks.

The SSL channel is the last channel unless --channel is given. Each block
is summarized by its circular mean, spread and pole difference, and the
whole capture is scored for accuracy and sensitivity against its dominant
azimuth.

Example:
  soundcheck doa -o json left.wav right.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}

		jobs := make([]analysis.DOAJob, len(args))
		for i, path := range args {
			jobs[i] = analysis.DOAJob{Path: path, Channel: doaChannel}
		}

		ctx, stop := signalContext()
		defer stop()

		return finish(ctx, runner.RunDOA(ctx, jobs), doaSave)
	},
}

func init() {
	doaCmd.Flags().IntVar(&doaChannel, "channel", analysis.LastChannel, "SSL channel index, -1 for the last")
	doaCmd.Flags().BoolVar(&doaSave, "save", false, "archive reports in the store")
}
