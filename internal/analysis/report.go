// Package analysis turns WAV captures into quality and DOA reports, one file
// at a time or in bounded batches.
package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

// Kind names the analysis that produced a report
type Kind string

const (
	KindQuality Kind = "quality"
	KindDOA     Kind = "doa"
)

// StatusError marks a report whose input could not be analyzed at all
// (unreadable file, malformed buffer). Expected outcomes use the align and
// doa status names instead.
const StatusError = "error"

// Report is the archived, streamed and rendered unit of output
type Report struct {
	ID        string         `json:"id" yaml:"id" msgpack:"id"`
	Kind      Kind           `json:"kind" yaml:"kind" msgpack:"kind"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at" msgpack:"created_at"`
	Quality   *QualityReport `json:"quality,omitempty" yaml:"quality,omitempty" msgpack:"quality,omitempty"`
	DOA       *DOAReport     `json:"doa,omitempty" yaml:"doa,omitempty" msgpack:"doa,omitempty"`
}

// File returns the input the report describes
func (r Report) File() string {
	switch {
	case r.Quality != nil:
		return r.Quality.File
	case r.DOA != nil:
		return r.DOA.File
	}
	return ""
}

// Status returns the outcome of the underlying analysis
func (r Report) Status() string {
	switch {
	case r.Quality != nil:
		return r.Quality.Status
	case r.DOA != nil:
		return r.DOA.Status
	}
	return ""
}

// OK reports whether the analysis completed without a failure status
func (r Report) OK() bool {
	return r.Status() == "ok"
}

// QualityReport is the outcome of aligning and scoring one degraded capture
type QualityReport struct {
	File          string                 `json:"file" yaml:"file" msgpack:"file"`
	Reference     string                 `json:"reference" yaml:"reference" msgpack:"reference"`
	Status        string                 `json:"status" yaml:"status" msgpack:"status"`
	Error         string                 `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
	SampleRate    int                    `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty" msgpack:"sample_rate,omitempty"`
	OffsetSamples int                    `json:"offset_samples" yaml:"offset_samples" msgpack:"offset_samples"`
	OffsetSeconds float64                `json:"offset_seconds" yaml:"offset_seconds" msgpack:"offset_seconds"`
	Gain          float64                `json:"gain" yaml:"gain" msgpack:"gain"`
	Scores        map[string]score.Value `json:"scores,omitempty" yaml:"scores,omitempty" msgpack:"scores,omitempty"`
	AlignedOutput string                 `json:"aligned_output,omitempty" yaml:"aligned_output,omitempty" msgpack:"aligned_output,omitempty"`
}

// DOAReport is the outcome of decoding one SSL channel
type DOAReport struct {
	File         string           `json:"file" yaml:"file" msgpack:"file"`
	Status       string           `json:"status" yaml:"status" msgpack:"status"`
	Error        string           `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
	Channel      int              `json:"channel" yaml:"channel" msgpack:"channel"`
	SampleRate   int              `json:"sample_rate" yaml:"sample_rate" msgpack:"sample_rate"`
	DurationSec  float64          `json:"duration_sec" yaml:"duration_sec" msgpack:"duration_sec"`
	ValidSamples int              `json:"valid_samples" yaml:"valid_samples" msgpack:"valid_samples"`
	Blocks       []doa.BlockStats `json:"blocks" yaml:"blocks" msgpack:"blocks"`
	Evaluation   *doa.Evaluation  `json:"evaluation,omitempty" yaml:"evaluation,omitempty" msgpack:"evaluation,omitempty"`
}

func newReport(kind Kind) Report {
	return Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Summary counts the outcomes of a batch
type Summary struct {
	Total  int `json:"total" yaml:"total"`
	OK     int `json:"ok" yaml:"ok"`
	Failed int `json:"failed" yaml:"failed"`
}

// Summarize counts ok and failed reports
func Summarize(reports []Report) Summary {
	s := Summary{Total: len(reports)}
	for _, r := range reports {
		if r.OK() {
			s.OK++
		} else {
			s.Failed++
		}
	}
	return s
}
