package dsp

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrUnknownKind is returned by ParseKind for unrecognised operation names.
var ErrUnknownKind = errors.New("unknown augmentation kind")

// Kind names an augmentation operation.
type Kind string

const (
	KindNoise  Kind = "noise"
	KindPitch  Kind = "pitch"
	KindShift  Kind = "shift"
	KindGain   Kind = "gain"
	KindReverb Kind = "reverb"
	KindMask   Kind = "mask"
	KindMix    Kind = "mix"
)

// DefaultKinds is the operation pool used by random composition.
var DefaultKinds = []Kind{KindNoise, KindPitch, KindShift, KindGain, KindReverb, KindMask}

// ParseKind converts a name such as "pitch" to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindNoise, KindPitch, KindShift, KindGain, KindReverb, KindMask, KindMix:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Op is one parameterised augmentation. Value is interpreted per kind:
// noise level, semitones, maximum shift fraction, gain in dB, reverb decay,
// mask mix ratio or target SNR in dB.
type Op struct {
	Kind  Kind
	Value float64

	// Background is the noise bed used by KindMix.
	Background Waveform
	// Delay is the reverb delay; zero means DefaultReverbDelay.
	Delay time.Duration
}

// String renders the op as kind@value with a unit suffix, e.g. "pitch@-1.50st".
func (o Op) String() string {
	switch o.Kind {
	case KindNoise:
		return fmt.Sprintf("noise@%.3f", o.Value)
	case KindPitch:
		return fmt.Sprintf("pitch@%.2fst", o.Value)
	case KindShift:
		return fmt.Sprintf("shift@%.2f", o.Value)
	case KindGain:
		return fmt.Sprintf("gain@%.1fdB", o.Value)
	case KindReverb:
		return fmt.Sprintf("reverb@%.2f", o.Value)
	case KindMask:
		return fmt.Sprintf("mask@%.2f", o.Value)
	case KindMix:
		return fmt.Sprintf("mix@%.1fdB", o.Value)
	}
	return fmt.Sprintf("%s@%g", o.Kind, o.Value)
}

// Apply runs the op on w. rng supplies the per-sample randomness of the
// noise and shift kinds.
func (o Op) Apply(w Waveform, rng *rand.Rand) Waveform {
	switch o.Kind {
	case KindNoise:
		return AddNoise(w, o.Value, rng)
	case KindPitch:
		return PitchShift(w, o.Value)
	case KindShift:
		return TimeShift(w, o.Value, rng)
	case KindGain:
		return Gain(w, o.Value)
	case KindReverb:
		delay := o.Delay
		if delay == 0 {
			delay = DefaultReverbDelay
		}
		return Reverb(w, o.Value, delay)
	case KindMask:
		return LowPassBlend(w, o.Value)
	case KindMix:
		return MixBackground(w, o.Background, o.Value)
	}
	return w.Clone()
}

// Chain renders a list of ops joined by "+".
func Chain(ops []Op) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, "+")
}
