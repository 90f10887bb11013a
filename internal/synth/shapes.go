package synth

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/hearalert/soundbank/internal/dsp"
)

const twoPi = 2 * math.Pi

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// addTone adds amp*sin(2*pi*f*t) over [from, to) seconds.
func addTone(w dsp.Waveform, f, from, to, amp float64) {
	sr := float64(w.SampleRate)
	lo := max(0, int(math.Ceil(from*sr)))
	hi := min(w.Len(), int(math.Ceil(to*sr)))
	for i := lo; i < hi; i++ {
		w.Samples[i] += amp * math.Sin(twoPi*f*float64(i)/sr)
	}
}

// addImpact adds a damped sinusoid starting at sample start.
func addImpact(w dsp.Waveform, start, length int, tau, f float64) {
	sr := float64(w.SampleRate)
	for j := 0; j < length && start+j < w.Len(); j++ {
		if start+j < 0 {
			continue
		}
		w.Samples[start+j] += math.Exp(-float64(j)/tau) * math.Sin(twoPi*f*float64(j)/sr)
	}
}

// sweepTone renders sin of the integrated instantaneous frequency freq(t).
func sweepTone(w dsp.Waveform, phase float64, freq func(t float64) float64) {
	sr := float64(w.SampleRate)
	for i := range w.Samples {
		w.Samples[i] = math.Sin(phase)
		phase += twoPi * freq(float64(i)/sr) / sr
	}
}

// speech places 5-15 short tone bursts around a fundamental between 100 and
// 300 Hz over a bed of its second and third harmonics.
func speech(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	dur := p.Duration.Seconds()
	base := uniform(rng, 100, 300)

	bursts := 5 + rng.IntN(11)
	for range bursts {
		start := uniform(rng, 0, max(0, dur-0.5))
		end := start + uniform(rng, 0.1, 0.5)
		addTone(w, base+uniform(rng, -50, 50), start, end, 1)
	}
	addTone(w, 2*base, 0, dur, 0.3)
	addTone(w, 3*base, 0, dur, 0.2)
	return w
}

// footsteps repeats 100 ms impacts at a fixed random interval.
func footsteps(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	sr := float64(p.SampleRate)
	interval := uniform(rng, 0.4, 0.8)
	for at := 0.0; at < p.Duration.Seconds(); at += interval {
		addImpact(w, int(at*sr), int(0.1*sr), sr*0.02, uniform(rng, 100, 200))
	}
	return w
}

// knock renders 2-4 sharp impacts. Times scale with the clip length: the
// first lands 10-30% in, the rest follow every 4-8% of the clip.
func knock(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	sr := float64(p.SampleRate)
	dur := p.Duration.Seconds()
	first := uniform(rng, 0.1, 0.3) * dur
	knocks := 2 + rng.IntN(3)
	for k := range knocks {
		at := first + float64(k)*uniform(rng, 0.04, 0.08)*dur
		addImpact(w, int(at*sr), int(0.05*sr), sr*0.005, uniform(rng, 100, 300))
	}
	return w
}

// creak is a frequency-modulated tone covering 20-40% of the clip.
func creak(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	sr := float64(p.SampleRate)
	dur := p.Duration.Seconds()
	start := uniform(rng, 0.1, 0.3) * dur
	end := start + uniform(rng, 0.2, 0.4)*dur
	carrier := uniform(rng, 200, 400)
	modFreq := uniform(rng, 10, 50)
	modDepth := uniform(rng, 50, 150)

	lo := int(math.Ceil(start * sr))
	hi := min(w.Len(), int(end*sr)+1)
	for i := lo; i < hi; i++ {
		t := float64(i) / sr
		w.Samples[i] = math.Sin(twoPi * (carrier + modDepth*math.Sin(twoPi*modFreq*t)) * t)
	}
	return w
}

// water integrates white noise and differentiates it back.
func water(rng *rand.Rand, p Params) dsp.Waveform {
	n := p.Samples()
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	sum := make([]float64, n)
	floats.CumSum(sum, noise)

	w := dsp.Zeros(n, p.SampleRate)
	prev := 0.0
	for i, s := range sum {
		w.Samples[i] = s - prev
		prev = s
	}
	return w
}

// pulseBeep is a ~3 kHz tone on for half of every second.
func pulseBeep(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	f := 3000 + uniform(rng, -100, 100)
	for at := 0.0; at < p.Duration.Seconds(); at++ {
		addTone(w, f, at, at+0.5, 1)
	}
	return w
}

// sweep rises and falls between 500 and 1500 Hz every 0.3 s.
func sweep(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	offset := uniform(rng, 0, twoPi)
	sweepTone(w, uniform(rng, 0, twoPi), func(t float64) float64 {
		return 500 + 1000*0.5*(1+math.Sin(twoPi*t/0.3+offset))
	})
	return w
}

// tripleBeep repeats three 100 ms beeps at the start of every second.
func tripleBeep(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	f := 1000 + uniform(rng, -100, 100)
	for at := 0.0; at < p.Duration.Seconds(); at++ {
		for b := range 3 {
			start := at + float64(b)*0.2
			addTone(w, f, start, start+0.1, 1)
		}
	}
	return w
}

// longBeep emits two beeps around 2 kHz, each a fifth of the clip long.
func longBeep(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	f := 2000 + uniform(rng, -100, 100)
	dur := p.Duration.Seconds()
	addTone(w, f, 0.2*dur, 0.4*dur, 1)
	addTone(w, f, 0.5*dur, 0.7*dur, 1)
	return w
}

// wail sweeps 100-1100 Hz with a 5 s period, starting at a random point of
// the cycle.
func wail(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	offset := uniform(rng, 0, twoPi)
	sweepTone(w, uniform(rng, 0, twoPi), func(t float64) float64 {
		return 600 + 500*math.Sin(twoPi*0.2*t+offset)
	})
	return w
}

// buzzer is a 400 Hz tone with inharmonic partials, gated on and off at 2 Hz.
func buzzer(_ *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	sr := float64(p.SampleRate)
	const base = 400.0
	for i := range w.Samples {
		t := float64(i) / sr
		if math.Sin(twoPi*2*t) <= 0 {
			continue
		}
		w.Samples[i] = math.Sin(twoPi*base*t) +
			0.5*math.Sin(twoPi*base*2.5*t) +
			0.3*math.Sin(twoPi*base*5.2*t)
	}
	return w
}

// generic is a decaying tone with one overtone.
func generic(rng *rand.Rand, p Params) dsp.Waveform {
	w := dsp.Zeros(p.Samples(), p.SampleRate)
	sr := float64(p.SampleRate)
	f := uniform(rng, 200, 2000)
	tau := uniform(rng, 1, 3)
	for i := range w.Samples {
		t := float64(i) / sr
		s := math.Sin(twoPi*f*t) + 0.3*math.Sin(twoPi*2*f*t)
		w.Samples[i] = s * math.Exp(-t/tau)
	}
	return w
}
