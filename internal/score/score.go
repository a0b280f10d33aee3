// Package score computes objective similarity metrics between an aligned,
// level-matched reference and a processed signal.
package score

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/xcorr"
)

// Metric scores a processed signal against a reference of equal length.
type Metric func(reference, processed []float64) float64

// Metric names accepted in configuration.
const (
	SNR          = "snr"
	RMSE         = "rmse"
	DynamicRange = "dynamic_range"
	ZCR          = "zcr"
	NCC          = "ncc"
)

var metrics = map[string]Metric{
	SNR:          SignalToNoise,
	RMSE:         RootMeanSquareError,
	DynamicRange: RMSDynamicRange,
	ZCR:          ZeroCrossingRate,
	NCC:          NormalizedCrossCorrelation,
}

// Frame geometry for the framewise metrics.
const (
	frameLength = 2048
	hopLength   = 512

	zeroThreshold = 1e-10
)

// Names lists the registered metric names in sorted order.
func Names() []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the metric registered under name.
func Lookup(name string) (Metric, error) {
	m, ok := metrics[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", name)
	}
	return m, nil
}

// Scorer evaluates a fixed set of metrics.
type Scorer struct {
	names []string
}

// NewScorer validates the metric names. An empty list selects every metric.
func NewScorer(names []string) (*Scorer, error) {
	if len(names) == 0 {
		names = Names()
	}
	for _, name := range names {
		if _, err := Lookup(name); err != nil {
			return nil, err
		}
	}
	return &Scorer{names: append([]string(nil), names...)}, nil
}

// Score evaluates each metric on two equal-length mono buffers.
func (s *Scorer) Score(reference, processed audio.Buffer) (map[string]Value, error) {
	if err := reference.RequireMono(); err != nil {
		return nil, err
	}
	if err := processed.RequireMono(); err != nil {
		return nil, err
	}
	if reference.Frames() != processed.Frames() {
		return nil, fmt.Errorf("%w: scoring lengths differ (%d vs %d)",
			audio.ErrMalformed, reference.Frames(), processed.Frames())
	}

	ref := reference.Float64()
	proc := processed.Float64()
	out := make(map[string]Value, len(s.names))
	for _, name := range s.names {
		out[name] = Value(metrics[name](ref, proc))
	}
	return out, nil
}

// SignalToNoise is 10*log10(sum(ref^2) / sum((ref-proc)^2)) in dB. Identical
// signals score +Inf.
func SignalToNoise(reference, processed []float64) float64 {
	signal := floats.Dot(reference, reference)
	noise := sqDiff(reference, processed)
	if noise == 0 {
		if signal == 0 {
			return math.NaN()
		}
		return math.Inf(1)
	}
	return 10 * math.Log10(signal/noise)
}

// RootMeanSquareError is sqrt(mean((ref-proc)^2)).
func RootMeanSquareError(reference, processed []float64) float64 {
	if len(reference) == 0 {
		return 0
	}
	return math.Sqrt(sqDiff(reference, processed) / float64(len(reference)))
}

// NormalizedCrossCorrelation z-scores both signals and returns the peak of
// their full correlation divided by the length. A perfect match scores 1.
func NormalizedCrossCorrelation(reference, processed []float64) float64 {
	if len(reference) == 0 {
		return 0
	}
	r := zscore(reference)
	p := zscore(processed)
	if r == nil || p == nil {
		return 0
	}
	c := xcorr.Full(r, p)
	return floats.Max(c) / float64(len(reference))
}

// RMSDynamicRange is the spread between the loudest and quietest frame RMS
// of the processed signal. Frames are centered with zero padding.
func RMSDynamicRange(_, processed []float64) float64 {
	if len(processed) == 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	eachFrame(processed, false, func(frame []float64) {
		rms := math.Sqrt(floats.Dot(frame, frame) / frameLength)
		lo = math.Min(lo, rms)
		hi = math.Max(hi, rms)
	})
	return hi - lo
}

// ZeroCrossingRate is the mean framewise rate of sign changes in the
// processed signal. Frames are centered with edge padding and samples within
// 1e-10 of zero count as positive.
func ZeroCrossingRate(_, processed []float64) float64 {
	if len(processed) == 0 {
		return 0
	}
	var sum float64
	var n int
	eachFrame(processed, true, func(frame []float64) {
		crossings := 0
		for i := 1; i < len(frame); i++ {
			if (frame[i] < -zeroThreshold) != (frame[i-1] < -zeroThreshold) {
				crossings++
			}
		}
		sum += float64(crossings) / frameLength
		n++
	})
	return sum / float64(n)
}

// eachFrame pads x by half a frame on both sides, with zeros or with the
// edge samples, and calls fn on every hop.
func eachFrame(x []float64, edge bool, fn func(frame []float64)) {
	half := frameLength / 2
	padded := make([]float64, len(x)+frameLength)
	copy(padded[half:], x)
	if edge {
		for i := 0; i < half; i++ {
			padded[i] = x[0]
			padded[half+len(x)+i] = x[len(x)-1]
		}
	}
	for start := 0; start+frameLength <= len(padded); start += hopLength {
		fn(padded[start : start+frameLength])
	}
}

func sqDiff(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// zscore returns (x-mean)/std with population std, or nil for constant input.
func zscore(x []float64) []float64 {
	mean, std := stat.PopMeanStdDev(x, nil)
	if std == 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out
}

// Value is a metric result. It encodes infinities and NaN as JSON strings
// so a perfect SNR survives the trip through the API.
type Value float64

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "+Inf":
			*v = Value(math.Inf(1))
		case "-Inf":
			*v = Value(math.Inf(-1))
		case "NaN":
			*v = Value(math.NaN())
		default:
			return fmt.Errorf("invalid metric value %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}
