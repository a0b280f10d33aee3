package resample

import (
	"fmt"
	"math"
)

const (
	// maxTaps caps the prototype filter length. Ratios such as 48000:47999
	// exceed it and take the Fourier path instead.
	maxTaps = 1 << 18

	// kaiserBeta trades transition width against stopband attenuation
	// (roughly 50 dB at 5).
	kaiserBeta = 5.0

	// zerosPerPhase is the number of sinc zero crossings on each side of
	// the filter center, per polyphase branch.
	zerosPerPhase = 10
)

// Polyphase resamples x from rate `from` to rate `to` with a centered
// Kaiser-windowed sinc filter. The output has ceil(len(x)*up/down) samples
// where up/down is to/from in lowest terms, and output sample m sits at the
// same instant as input position m*down/up.
func Polyphase(x []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, from, to)
	}
	if from == to {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}

	g := gcd(from, to)
	up, down := to/g, from/g
	maxRate := max(up, down)
	halfLen := zerosPerPhase * maxRate
	if taps := 2*halfLen + 1; taps > maxTaps {
		return nil, fmt.Errorf("%w: %d taps for %d/%d", ErrFilterTooLong, taps, up, down)
	}

	h := lowpass(halfLen, 0.5/float64(maxRate), float64(up))
	n := len(x)
	y := make([]float64, OutputLength(n, from, to))

	for m := range y {
		t := m * down
		lo := 0
		if t > halfLen {
			lo = (t - halfLen + up - 1) / up
		}
		hi := (t + halfLen) / up
		if hi > n-1 {
			hi = n - 1
		}

		var acc float64
		for k := lo; k <= hi; k++ {
			acc += x[k] * h[t-k*up+halfLen]
		}
		y[m] = acc
	}
	return y, nil
}

// lowpass builds a symmetric windowed-sinc filter with 2*halfLen+1 taps and
// cutoff in cycles per sample, normalized to unit DC gain and then scaled.
func lowpass(halfLen int, cutoff, gain float64) []float64 {
	h := make([]float64, 2*halfLen+1)
	i0Beta := besselI0(kaiserBeta)

	var sum float64
	for i := range h {
		n := float64(i - halfLen)
		r := n / float64(halfLen)
		w := besselI0(kaiserBeta*math.Sqrt(math.Max(0, 1-r*r))) / i0Beta
		h[i] = 2 * cutoff * sinc(2*cutoff*n) * w
		sum += h[i]
	}

	k := gain / sum
	for i := range h {
		h[i] *= k
	}
	return h
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// besselI0 is the zeroth-order modified Bessel function of the first kind,
// evaluated by its power series.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 500; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-16 {
			break
		}
	}
	return sum
}
