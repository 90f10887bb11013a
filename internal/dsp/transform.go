package dsp

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultReverbDelay is the comb-filter delay used when none is given.
const DefaultReverbDelay = 30 * time.Millisecond

// Normalize scales w so that its peak absolute amplitude is 1.
// Silent input is returned unchanged.
func Normalize(w Waveform) Waveform {
	out := w.Clone()
	peak := w.Peak()
	if peak == 0 {
		return out
	}
	floats.Scale(1/peak, out.Samples)
	return out
}

// AddNoise adds zero-mean Gaussian noise whose standard deviation is level
// times the peak amplitude of w.
func AddNoise(w Waveform, level float64, rng *rand.Rand) Waveform {
	out := w.Clone()
	scale := level * w.Peak()
	if scale == 0 {
		return out
	}
	for i := range out.Samples {
		out.Samples[i] += rng.NormFloat64() * scale
	}
	return out
}

// MixBackground adds bg to fg so that the ratio of fg power to added
// background power equals snrDB. The background is resampled to the
// foreground rate when needed, then tiled or truncated to fg's length.
// A silent or empty background leaves fg unchanged.
func MixBackground(fg, bg Waveform, snrDB float64) Waveform {
	if fg.Len() == 0 || bg.Len() == 0 {
		return fg.Clone()
	}
	if bg.SampleRate != fg.SampleRate && bg.SampleRate > 0 && fg.SampleRate > 0 {
		bg = Resample(bg, fg.SampleRate)
	}

	tiled := make([]float64, fg.Len())
	for i := range tiled {
		tiled[i] = bg.Samples[i%bg.Len()]
	}

	noisePower := floats.Dot(tiled, tiled) / float64(len(tiled))
	if noisePower == 0 {
		return fg.Clone()
	}
	snrLinear := math.Pow(10, snrDB/10)
	scale := math.Sqrt(fg.Power() / (snrLinear * noisePower))

	out := fg.Clone()
	floats.AddScaled(out.Samples, scale, tiled)
	return out
}

// TimeStretch resamples w by rate using nearest-sample selection: output
// sample i is input sample floor(i*rate). The result has roughly len/rate
// samples. A non-positive rate or a rate of exactly 1 returns a copy.
func TimeStretch(w Waveform, rate float64) Waveform {
	if rate <= 0 || rate == 1 || w.Len() == 0 {
		return w.Clone()
	}
	n := w.Len()
	out := make([]float64, 0, int(math.Ceil(float64(n)/rate)))
	for i := 0; ; i++ {
		idx := int(float64(i) * rate)
		if idx >= n {
			break
		}
		out = append(out, w.Samples[idx])
	}
	return Waveform{Samples: out, SampleRate: w.SampleRate}
}

// PitchShift shifts pitch by semitones: it stretches by 2^(-semitones/12)
// and then picks evenly spaced samples to restore the original length.
// Zero semitones is the identity.
func PitchShift(w Waveform, semitones float64) Waveform {
	if semitones == 0 || w.Len() == 0 {
		return w.Clone()
	}
	rate := math.Pow(2, -semitones/12)
	stretched := TimeStretch(w, rate)
	if stretched.Len() == w.Len() {
		return stretched
	}
	return fitLength(stretched, w.Len())
}

// Resample converts w to targetRate using nearest-sample selection.
func Resample(w Waveform, targetRate int) Waveform {
	if targetRate <= 0 || w.SampleRate <= 0 || targetRate == w.SampleRate {
		return w.Clone()
	}
	out := TimeStretch(w, float64(w.SampleRate)/float64(targetRate))
	out.SampleRate = targetRate
	return out
}

// fitLength picks n samples of w at linearly spaced indices.
func fitLength(w Waveform, n int) Waveform {
	out := Zeros(n, w.SampleRate)
	m := w.Len()
	if m == 0 {
		return out
	}
	for i := range out.Samples {
		idx := 0
		if n > 1 {
			idx = int(float64(i) * float64(m-1) / float64(n-1))
		}
		out.Samples[i] = w.Samples[idx]
	}
	return out
}

// Roll circularly rotates w by k samples; positive k moves samples later.
func Roll(w Waveform, k int) Waveform {
	n := w.Len()
	out := Zeros(n, w.SampleRate)
	if n == 0 {
		return out
	}
	k %= n
	if k < 0 {
		k += n
	}
	copy(out.Samples[k:], w.Samples[:n-k])
	copy(out.Samples[:k], w.Samples[n-k:])
	return out
}

// TimeShift rotates w by a random offset drawn uniformly from
// ±shiftMax of its length.
func TimeShift(w Waveform, shiftMax float64, rng *rand.Rand) Waveform {
	frac := (rng.Float64()*2 - 1) * shiftMax
	return Roll(w, int(float64(w.Len())*frac))
}

// Gain multiplies w by 10^(dB/20).
func Gain(w Waveform, dB float64) Waveform {
	out := w.Clone()
	floats.Scale(math.Pow(10, dB/20), out.Samples)
	return out
}

// Reverb adds one copy of w delayed by delay and scaled by decay, keeping
// the original length.
func Reverb(w Waveform, decay float64, delay time.Duration) Waveform {
	out := w.Clone()
	d := int(delay * time.Duration(w.SampleRate) / time.Second)
	if d < 0 {
		d = 0
	}
	for i := d; i < len(out.Samples); i++ {
		out.Samples[i] += decay * w.Samples[i-d]
	}
	return out
}

// LowPassBlend runs a one-pole low-pass filter
// (y[i] = 0.9*y[i-1] + 0.1*x[i]) over w and returns mix*w + (1-mix)*y.
func LowPassBlend(w Waveform, mix float64) Waveform {
	out := w.Clone()
	if w.Len() == 0 {
		return out
	}
	filtered := make([]float64, w.Len())
	filtered[0] = w.Samples[0]
	for i := 1; i < len(filtered); i++ {
		filtered[i] = 0.9*filtered[i-1] + 0.1*w.Samples[i]
	}
	floats.Scale(mix, out.Samples)
	floats.AddScaled(out.Samples, 1-mix, filtered)
	return out
}

// SpectralMask is a coarse time-domain stand-in for frequency masking: it
// blends w with its low-passed copy at a mix ratio drawn from [0.3, 0.7].
func SpectralMask(w Waveform, rng *rand.Rand) Waveform {
	return LowPassBlend(w, 0.3+0.4*rng.Float64())
}
