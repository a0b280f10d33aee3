// Package xcorr estimates the lag between two signals by cross-correlation.
package xcorr

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// directLimit bounds len(reference)*len(target) for the O(N*M) path.
// Larger inputs are correlated through the FFT.
const directLimit = 1 << 22

// tieTolerance is the fraction of sqrt(E_ref*E_target) within which two
// correlation values count as equal. It absorbs FFT round-off.
const tieTolerance = 1e-9

// Peak is the strongest correlation lag.
type Peak struct {
	// Lag is positive when the target starts after the reference.
	Lag int
	// Value is the raw correlation at Lag.
	Value float64
	// Coefficient is Value normalized by both signal energies, in [-1, 1].
	Coefficient float64
}

// EstimateOffset returns the lag L maximizing sum_n target[n+L]*reference[n].
// Ties resolve to the most negative lag on both the direct and FFT paths.
// Empty inputs yield 0.
func EstimateOffset(reference, target []float64) int {
	return Correlate(reference, target).Lag
}

// Correlate finds the correlation peak between reference and target.
func Correlate(reference, target []float64) Peak {
	if len(reference) == 0 || len(target) == 0 {
		return Peak{}
	}

	c := Full(reference, target)
	e := math.Sqrt(floats.Dot(reference, reference) * floats.Dot(target, target))
	i := firstMax(c, tieTolerance*e)
	p := Peak{
		Lag:   i - (len(reference) - 1),
		Value: c[i],
	}
	if e > 0 {
		p.Coefficient = p.Value / e
	}
	return p
}

// firstMax returns the lowest index whose value is within tol of the maximum.
func firstMax(c []float64, tol float64) int {
	limit := floats.Max(c) - tol
	for i, v := range c {
		if v >= limit {
			return i
		}
	}
	return floats.MaxIdx(c)
}

// Full returns the full cross-correlation. Entry k holds lag
// k-(len(reference)-1), so the slice spans lags -(len(reference)-1) through
// len(target)-1.
func Full(reference, target []float64) []float64 {
	lr, lt := len(reference), len(target)
	if lr == 0 || lt == 0 {
		return nil
	}
	if lr*lt <= directLimit {
		return direct(reference, target)
	}
	return viaFFT(reference, target)
}

func direct(reference, target []float64) []float64 {
	lr, lt := len(reference), len(target)
	out := make([]float64, lr+lt-1)
	for k := range out {
		lag := k - (lr - 1)
		lo := max(0, -lag)
		hi := min(lr, lt-lag)
		var acc float64
		for n := lo; n < hi; n++ {
			acc += target[n+lag] * reference[n]
		}
		out[k] = acc
	}
	return out
}

func viaFFT(reference, target []float64) []float64 {
	lr, lt := len(reference), len(target)
	size := nextPow2(lr + lt - 1)

	ref := make([]float64, size)
	copy(ref, reference)
	tgt := make([]float64, size)
	copy(tgt, target)

	fft := fourier.NewFFT(size)
	r := fft.Coefficients(nil, ref)
	t := fft.Coefficients(nil, tgt)
	for i := range t {
		t[i] *= complex(real(r[i]), -imag(r[i]))
	}

	// circ[l] = sum_n target[n+l]*reference[n], indices taken mod size.
	circ := fft.Sequence(nil, t)
	floats.Scale(1/float64(size), circ)

	out := make([]float64, lr+lt-1)
	for k := range out {
		lag := k - (lr - 1)
		if lag >= 0 {
			out[k] = circ[lag]
		} else {
			out[k] = circ[size+lag]
		}
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
