// Package synth generates procedural waveforms for categories that lack
// natural recordings.
package synth

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/hearalert/soundbank/internal/dsp"
)

// ErrUnknownShape is returned when a shape name has no generator.
var ErrUnknownShape = errors.New("unknown synthesis shape")

// Default output format of every generator.
const (
	DefaultSampleRate = 44100
	DefaultDuration   = 5 * time.Second
)

// Params fixes the output format of a generator.
type Params struct {
	SampleRate int
	Duration   time.Duration
}

// DefaultParams returns 5 s at 44.1 kHz.
func DefaultParams() Params {
	return Params{SampleRate: DefaultSampleRate, Duration: DefaultDuration}
}

// Samples returns the number of samples a generator must produce.
func (p Params) Samples() int {
	return int(p.Duration * time.Duration(p.SampleRate) / time.Second)
}

// Shape names a synthesis strategy.
type Shape string

const (
	ShapeSpeech     Shape = "speech"
	ShapeFootsteps  Shape = "footsteps"
	ShapeKnock      Shape = "knock"
	ShapeCreak      Shape = "creak"
	ShapeWater      Shape = "water"
	ShapePulseBeep  Shape = "pulse_beep"
	ShapeSweep      Shape = "sweep"
	ShapeTripleBeep Shape = "triple_beep"
	ShapeLongBeep   Shape = "long_beep"
	ShapeWail       Shape = "wail"
	ShapeBuzzer     Shape = "buzzer"
	ShapeGeneric    Shape = "generic"

	// ShapeNone disables synthesis for a category.
	ShapeNone Shape = "none"
)

// Generator produces one raw waveform. Output is finished by Generate.
type Generator func(rng *rand.Rand, p Params) dsp.Waveform

type variant struct {
	gen        Generator
	noiseFloor float64
}

var variants = map[Shape]variant{
	ShapeSpeech:     {speech, 0.05},
	ShapeFootsteps:  {footsteps, 0.02},
	ShapeKnock:      {knock, 0},
	ShapeCreak:      {creak, 0.03},
	ShapeWater:      {water, 0},
	ShapePulseBeep:  {pulseBeep, 0.01},
	ShapeSweep:      {sweep, 0.01},
	ShapeTripleBeep: {tripleBeep, 0.01},
	ShapeLongBeep:   {longBeep, 0.01},
	ShapeWail:       {wail, 0.01},
	ShapeBuzzer:     {buzzer, 0.01},
	ShapeGeneric:    {generic, 0.05},
}

// Shapes lists every known shape in name order.
func Shapes() []Shape {
	out := make([]Shape, 0, len(variants))
	for s := range variants {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseShape validates a shape name. The empty string and "none" are valid.
func ParseShape(s string) (Shape, error) {
	shape := Shape(s)
	if shape == "" || shape == ShapeNone {
		return shape, nil
	}
	if _, ok := variants[shape]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownShape, s)
	}
	return shape, nil
}

// Generate runs shape with rng and finishes the result: normalize, add the
// shape's noise floor, normalize again and quantize to the 16-bit grid.
func Generate(shape Shape, rng *rand.Rand, p Params) (dsp.Waveform, error) {
	v, ok := variants[shape]
	if !ok {
		return dsp.Waveform{}, fmt.Errorf("%w: %q", ErrUnknownShape, shape)
	}
	if p.SampleRate <= 0 || p.Duration <= 0 {
		p = DefaultParams()
	}
	return finish(v.gen(rng, p), v.noiseFloor, rng), nil
}

func finish(w dsp.Waveform, noiseFloor float64, rng *rand.Rand) dsp.Waveform {
	w = dsp.Normalize(w)
	if noiseFloor > 0 {
		w = dsp.AddNoise(w, noiseFloor, rng)
		w = dsp.Normalize(w)
	}
	return dsp.Quantize16(w)
}
