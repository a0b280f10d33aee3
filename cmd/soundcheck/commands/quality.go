package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
)

var (
	qualityDir        string
	qualityChannel    int
	qualityAlignedDir string
	qualitySave       bool
)

var qualityCmd = &cobra.Command{
	Use:   "quality <reference.wav> [degraded.wav...]",
	Short: "Align captures to a reference and score them",
	Long: `Align each degraded capture to the reference and score the aligned pair.

Captures are resampled to the reference rate (or alignment.scoring_rate),
trimmed by the cross-correlation offset and level matched before the
configured metrics run. A capture that cannot be aligned is reported with
its status and skipped by the scorers.

Examples:
  soundcheck quality ref.wav take1.wav take2.wav
  soundcheck quality ref.wav --dir captures/ --aligned-dir aligned/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := qualityJobs(args[0], args[1:])
		if err != nil {
			return err
		}

		runner, err := newRunner()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		return finish(ctx, runner.RunQuality(ctx, jobs), qualitySave)
	},
}

func qualityJobs(reference string, files []string) ([]analysis.QualityJob, error) {
	var jobs []analysis.QualityJob
	if qualityDir != "" {
		dirJobs, err := analysis.PairDir(reference, qualityDir)
		if err != nil {
			return nil, err
		}
		jobs = dirJobs
	}
	for _, f := range files {
		jobs = append(jobs, analysis.QualityJob{Reference: reference, Degraded: f})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no degraded captures given, pass files or --dir")
	}

	if qualityAlignedDir != "" {
		if err := os.MkdirAll(qualityAlignedDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	for i := range jobs {
		jobs[i].Channel = qualityChannel
		if qualityAlignedDir != "" {
			base := strings.TrimSuffix(filepath.Base(jobs[i].Degraded), filepath.Ext(jobs[i].Degraded))
			jobs[i].AlignedOutput = filepath.Join(qualityAlignedDir, base+"_aligned.wav")
		}
	}
	return jobs, nil
}

func init() {
	qualityCmd.Flags().StringVarP(&qualityDir, "dir", "d", "", "score every WAV in this directory")
	qualityCmd.Flags().IntVar(&qualityChannel, "channel", 0, "channel of the degraded captures to score")
	qualityCmd.Flags().StringVar(&qualityAlignedDir, "aligned-dir", "", "write aligned, level-matched captures here")
	qualityCmd.Flags().BoolVar(&qualitySave, "save", false, "archive reports in the store")
}
