package analysis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/teslashibe/go-soundcheck/internal/align"
	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

// LastChannel selects the final channel of a capture, where the SSL
// channel is conventionally recorded
const LastChannel = -1

// alignedBitDepth is the PCM depth of aligned WAVs handed to external scorers
const alignedBitDepth = 16

// QualityJob pairs a reference with one degraded capture
type QualityJob struct {
	Reference string
	Degraded  string
	// Channel of the degraded capture to score
	Channel int
	// AlignedOutput, when set, receives the aligned and level-matched
	// degraded signal as 16-bit PCM
	AlignedOutput string
	// Labels replace the paths in the report, e.g. for uploaded files
	ReferenceLabel string
	DegradedLabel  string
}

// DOAJob names a capture whose SSL channel is decoded
type DOAJob struct {
	Path    string
	Channel int
}

// NewDOAJob reads the SSL channel from the last channel of path
func NewDOAJob(path string) DOAJob {
	return DOAJob{Path: path, Channel: LastChannel}
}

// Config configures a Runner
type Config struct {
	Pipeline align.PipelineConfig
	Metrics  []string
	DOA      doa.AnalyzerConfig
	Workers  int
}

// Runner executes quality and DOA analyses
type Runner struct {
	pipeline *align.Pipeline
	scorer   *score.Scorer
	analyzer *doa.Analyzer
	workers  int
	logger   *slog.Logger

	scoringRate int
	onReport func(Report)
}

// NewRunner creates a runner. It fails only on unknown metric names.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scorer, err := score.NewScorer(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{
		pipeline: align.NewPipeline(cfg.Pipeline, logger),
		scorer:   scorer,
		analyzer: doa.NewAnalyzer(cfg.DOA, logger),
		workers:  cfg.Workers,
		logger:   logger,

		scoringRate: cfg.Pipeline.ScoringRate,
	}, nil
}

// OnReport registers a callback invoked for every finished report. Batches
// call it from worker goroutines, so it must be safe for concurrent use.
func (r *Runner) OnReport(fn func(Report)) {
	r.onReport = fn
}

func (r *Runner) emit(rep Report) Report {
	if r.onReport != nil {
		r.onReport(rep)
	}
	return rep
}

// Quality analyzes a single reference/degraded pair from disk
func (r *Runner) Quality(ctx context.Context, job QualityJob) Report {
	rep := newReport(KindQuality)
	q := &QualityReport{
		File:      cmp.Or(job.DegradedLabel, job.Degraded),
		Reference: cmp.Or(job.ReferenceLabel, job.Reference),
	}
	rep.Quality = q

	if err := ctx.Err(); err != nil {
		return r.emit(r.failQuality(rep, err))
	}

	ref, err := readChannel(job.Reference, 0)
	if err != nil {
		return r.emit(r.failQuality(rep, fmt.Errorf("reference: %w", err)))
	}
	deg, err := readChannel(job.Degraded, job.Channel)
	if err != nil {
		return r.emit(r.failQuality(rep, fmt.Errorf("degraded: %w", err)))
	}

	res, err := r.score(q, ref, deg)
	if err != nil {
		return r.emit(r.failQuality(rep, err))
	}

	if job.AlignedOutput != "" && res.Status.OK() {
		if err := audio.WriteWAV(job.AlignedOutput, res.AlignedTarget, alignedBitDepth); err != nil {
			return r.emit(r.failQuality(rep, fmt.Errorf("write aligned output: %w", err)))
		}
		q.AlignedOutput = job.AlignedOutput
	}

	r.logger.Info("quality analyzed",
		"file", q.File,
		"status", q.Status,
		"offset_samples", q.OffsetSamples,
		"gain", q.Gain,
	)
	return r.emit(rep)
}

// QualityBuffers analyzes buffers that are already in memory. The names
// label both inputs in the report.
func (r *Runner) QualityBuffers(refName, name string, reference, degraded audio.Buffer) Report {
	rep := newReport(KindQuality)
	q := &QualityReport{File: name, Reference: refName}
	rep.Quality = q

	if _, err := r.score(q, reference, degraded); err != nil {
		return r.emit(r.failQuality(rep, err))
	}
	return r.emit(rep)
}

// score runs the pipeline and, for an aligned pair, every metric
func (r *Runner) score(q *QualityReport, reference, degraded audio.Buffer) (align.Result, error) {
	res, err := r.pipeline.Run(reference, degraded)
	if err != nil {
		return res, err
	}

	// Offsets are counted at the rate alignment ran at, which failed
	// results do not carry.
	rate := res.Reference.SampleRate
	if rate == 0 {
		rate = reference.SampleRate
		if r.scoringRate > 0 {
			rate = r.scoringRate
		}
	}

	q.Status = res.Status.String()
	q.SampleRate = rate
	q.OffsetSamples = res.OffsetSamples
	q.OffsetSeconds = float64(res.OffsetSamples) / float64(rate)
	q.Gain = res.Gain
	if !res.Status.OK() {
		return res, nil
	}

	scores, err := r.scorer.Score(res.Reference, res.AlignedTarget)
	if err != nil {
		return res, err
	}
	q.Scores = scores
	return res, nil
}

func (r *Runner) failQuality(rep Report, err error) Report {
	rep.Quality.Status = StatusError
	rep.Quality.Error = err.Error()
	r.logger.Warn("quality analysis failed", "file", rep.Quality.File, "error", err)
	return rep
}

// DOA decodes the SSL channel of a single capture from disk
func (r *Runner) DOA(ctx context.Context, job DOAJob) Report {
	if err := ctx.Err(); err != nil {
		rep := newReport(KindDOA)
		rep.DOA = &DOAReport{File: job.Path, Channel: job.Channel}
		return r.emit(r.failDOA(rep, err))
	}

	buf, err := audio.ReadWAV(job.Path)
	if err != nil {
		rep := newReport(KindDOA)
		rep.DOA = &DOAReport{File: job.Path, Channel: job.Channel}
		return r.emit(r.failDOA(rep, err))
	}
	return r.DOABuffer(job.Path, buf, job.Channel)
}

// DOABuffer decodes channel of an in-memory capture. A negative channel
// selects the last one.
func (r *Runner) DOABuffer(name string, buf audio.Buffer, channel int) Report {
	rep := newReport(KindDOA)
	d := &DOAReport{File: name, Channel: channel}
	rep.DOA = d

	if channel < 0 {
		channel = buf.Channels - 1
		d.Channel = channel
	}
	ssl, err := buf.Channel(channel)
	if err != nil {
		return r.emit(r.failDOA(rep, err))
	}

	out, err := r.analyzer.Analyze(ssl)
	if err != nil {
		return r.emit(r.failDOA(rep, err))
	}
	fillDOA(d, out)

	r.logger.Info("doa analyzed",
		"file", name,
		"status", d.Status,
		"blocks", len(d.Blocks),
	)
	return r.emit(rep)
}

// Live records from the recorder's source for duration and analyzes the
// captured stream at the polling rate
func (r *Runner) Live(ctx context.Context, rec *doa.Recorder, duration time.Duration) (Report, error) {
	stream, err := rec.Record(ctx, duration)
	if err != nil {
		return Report{}, fmt.Errorf("record %s: %w", rec.Source().Name(), err)
	}

	rep := newReport(KindDOA)
	d := &DOAReport{File: "live:" + rec.Source().Name()}
	rep.DOA = d

	if stream.Seconds() < r.analyzer.MinDuration().Seconds() {
		d.Status = string(doa.StatusTooShort)
		d.SampleRate = stream.SampleRate
		d.DurationSec = stream.Seconds()
		return r.emit(rep), nil
	}
	fillDOA(d, r.analyzer.AnalyzeStream(stream))
	return r.emit(rep), nil
}

func fillDOA(d *DOAReport, out doa.Report) {
	d.Status = string(out.Status)
	d.SampleRate = out.SampleRate
	d.DurationSec = out.DurationSec
	d.ValidSamples = out.ValidSamples
	d.Blocks = out.Blocks
	if out.Status == doa.StatusOK {
		ev := out.Evaluation
		d.Evaluation = &ev
	}
}

func (r *Runner) failDOA(rep Report, err error) Report {
	rep.DOA.Status = StatusError
	rep.DOA.Error = err.Error()
	r.logger.Warn("doa analysis failed", "file", rep.DOA.File, "error", err)
	return rep
}

type indexed struct {
	i   int
	rep Report
}

// RunQuality analyzes jobs on the worker pool. Reports come back in job
// order and a failing job never stops the batch.
func (r *Runner) RunQuality(ctx context.Context, jobs []QualityJob) []Report {
	return r.run(len(jobs), func(i int) Report {
		return r.Quality(ctx, jobs[i])
	})
}

// RunDOA analyzes captures on the worker pool, preserving job order
func (r *Runner) RunDOA(ctx context.Context, jobs []DOAJob) []Report {
	return r.run(len(jobs), func(i int) Report {
		return r.DOA(ctx, jobs[i])
	})
}

func (r *Runner) run(n int, fn func(i int) Report) []Report {
	start := time.Now()
	p := pool.NewWithResults[indexed]().WithMaxGoroutines(r.workers)
	for i := 0; i < n; i++ {
		p.Go(func() indexed {
			return indexed{i: i, rep: fn(i)}
		})
	}
	results := p.Wait()

	slices.SortFunc(results, func(a, b indexed) int { return a.i - b.i })
	reports := make([]Report, len(results))
	for i, res := range results {
		reports[i] = res.rep
	}

	sum := Summarize(reports)
	r.logger.Info("batch complete",
		"total", sum.Total,
		"ok", sum.OK,
		"failed", sum.Failed,
		"workers", r.workers,
		"elapsed", time.Since(start),
	)
	return reports
}

func readChannel(path string, channel int) (audio.Buffer, error) {
	buf, err := audio.ReadWAV(path)
	if err != nil {
		return audio.Buffer{}, err
	}
	if channel < 0 {
		channel = buf.Channels - 1
	}
	return buf.Channel(channel)
}

// PairDir builds quality jobs for every WAV in dir, each scored against
// reference. Files named like the reference are skipped.
func PairDir(reference, dir string) ([]QualityJob, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return nil, err
	}
	refAbs, _ := filepath.Abs(reference)

	var jobs []QualityJob
	for _, m := range matches {
		if abs, _ := filepath.Abs(m); abs == refAbs {
			continue
		}
		jobs = append(jobs, QualityJob{Reference: reference, Degraded: m})
	}
	if len(jobs) == 0 {
		return nil, errors.New("no degraded captures found in " + dir)
	}
	return jobs, nil
}
