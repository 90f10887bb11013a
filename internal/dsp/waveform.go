// Package dsp provides the waveform type and the stateless transforms used to
// augment training clips. Every transform returns a new Waveform and leaves
// its input untouched.
package dsp

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// PCM16Max is the largest positive 16-bit PCM sample value.
const PCM16Max = 32767

// Waveform is a mono sequence of amplitude samples at a fixed sample rate.
// Samples are nominally in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// New returns a Waveform that owns a copy of samples.
func New(samples []float64, sampleRate int) Waveform {
	out := make([]float64, len(samples))
	copy(out, samples)
	return Waveform{Samples: out, SampleRate: sampleRate}
}

// Zeros returns a silent Waveform of n samples.
func Zeros(n, sampleRate int) Waveform {
	return Waveform{Samples: make([]float64, n), SampleRate: sampleRate}
}

// Len returns the number of samples.
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy.
func (w Waveform) Clone() Waveform {
	return New(w.Samples, w.SampleRate)
}

// Peak returns the maximum absolute amplitude, or 0 for empty input.
func (w Waveform) Peak() float64 {
	if len(w.Samples) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(w.Samples)), math.Abs(floats.Min(w.Samples)))
}

// Power returns the mean square of the samples, or 0 for empty input.
func (w Waveform) Power() float64 {
	if len(w.Samples) == 0 {
		return 0
	}
	return floats.Dot(w.Samples, w.Samples) / float64(len(w.Samples))
}

// IsSilent reports whether every sample is zero.
func (w Waveform) IsSilent() bool {
	return w.Peak() == 0
}

// Quantize16 rounds every sample onto the 16-bit PCM grid, clipping to
// [-1, 1]. The result is still expressed in unit amplitude.
func Quantize16(w Waveform) Waveform {
	out := Zeros(w.Len(), w.SampleRate)
	for i, s := range w.Samples {
		out.Samples[i] = float64(max(ToPCM16(s), -PCM16Max)) / PCM16Max
	}
	return out
}

// ToPCM16 converts a unit-amplitude sample to a clipped 16-bit value.
func ToPCM16(s float64) int {
	v := math.Round(s * PCM16Max)
	if v > PCM16Max {
		return PCM16Max
	}
	if v < -PCM16Max-1 {
		return -PCM16Max - 1
	}
	return int(v)
}

// FromPCM16 converts a 16-bit sample value to unit amplitude.
func FromPCM16(v int) float64 {
	return float64(v) / PCM16Max
}
