package resample

import (
	"errors"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Fourier resamples x to exactly n samples by truncating or zero-padding
// its spectrum. The signal is treated as periodic, so edges may ring.
func Fourier(x []float64, n int) ([]float64, error) {
	if len(x) == 0 {
		return []float64{}, nil
	}
	if n <= 0 {
		return nil, errors.New("fourier resample: output length must be positive")
	}

	src := fourier.NewFFT(len(x))
	coeff := src.Coefficients(nil, x)

	out := make([]complex128, n/2+1)
	copy(out, coeff)

	switch {
	case n > len(x) && len(x)%2 == 0:
		// The source Nyquist bin becomes an ordinary bin and is mirrored.
		out[len(x)/2] /= 2
	case n < len(x) && n%2 == 0:
		// The target Nyquist bin folds both halves of the truncated pair.
		out[n/2] = complex(2*real(out[n/2]), 0)
	}

	y := fourier.NewFFT(n).Sequence(nil, out)
	floats.Scale(1/float64(len(x)), y)
	return y, nil
}
