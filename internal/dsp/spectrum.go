package dsp

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// BandEnergy returns the spectral energy of w in each band
// [edges[i], edges[i+1]), normalised by the number of samples. One FFT
// serves every band.
func BandEnergy(w Waveform, edges ...float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	out := make([]float64, len(edges)-1)
	n := w.Len()
	if n < 2 || w.SampleRate <= 0 {
		return out
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, w.Samples)

	for i, c := range coeff {
		freq := fft.Freq(i) * float64(w.SampleRate)
		for b := range out {
			if freq >= edges[b] && freq < edges[b+1] {
				mag := cmplx.Abs(c)
				out[b] += mag * mag
				break
			}
		}
	}
	for b := range out {
		out[b] /= float64(n)
	}
	return out
}
