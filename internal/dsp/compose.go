package dsp

import (
	"math/rand/v2"
	"slices"
)

// DefaultOpCount is the number of operations applied per augmented variant.
const DefaultOpCount = 3

// Composer draws random subsets of augmentation operations and applies them
// in sequence. A Composer holds only configuration and is safe for
// concurrent use; all randomness comes from the rng passed to each call.
type Composer struct {
	kinds       []Kind
	count       int
	backgrounds []Waveform
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithKinds restricts the operation pool.
func WithKinds(kinds ...Kind) ComposerOption {
	return func(c *Composer) {
		if len(kinds) > 0 {
			c.kinds = slices.Clone(kinds)
		}
	}
}

// WithOpCount sets how many operations each variant receives.
func WithOpCount(n int) ComposerOption {
	return func(c *Composer) {
		if n > 0 {
			c.count = n
		}
	}
}

// WithBackgrounds supplies noise beds and adds KindMix to the pool.
func WithBackgrounds(bgs ...Waveform) ComposerOption {
	return func(c *Composer) {
		c.backgrounds = append(c.backgrounds, bgs...)
	}
}

// NewComposer creates a Composer over DefaultKinds drawing DefaultOpCount
// operations per variant.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		kinds: slices.Clone(DefaultKinds),
		count: DefaultOpCount,
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.backgrounds) > 0 && !slices.Contains(c.kinds, KindMix) {
		c.kinds = append(c.kinds, KindMix)
	}
	if len(c.backgrounds) == 0 {
		c.kinds = slices.DeleteFunc(c.kinds, func(k Kind) bool { return k == KindMix })
	}
	return c
}

// Kinds returns the operation pool.
func (c *Composer) Kinds() []Kind {
	return slices.Clone(c.kinds)
}

// Draw picks min(count, len(pool)) distinct kinds in random order and draws
// their parameters.
func (c *Composer) Draw(rng *rand.Rand) []Op {
	n := min(c.count, len(c.kinds))
	perm := rng.Perm(len(c.kinds))[:n]
	ops := make([]Op, 0, n)
	for _, idx := range perm {
		ops = append(ops, c.draw(c.kinds[idx], rng))
	}
	return ops
}

func (c *Composer) draw(k Kind, rng *rand.Rand) Op {
	switch k {
	case KindNoise:
		return Op{Kind: k, Value: uniform(rng, 0.01, 0.05)}
	case KindPitch:
		return Op{Kind: k, Value: uniform(rng, -2, 2)}
	case KindShift:
		return Op{Kind: k, Value: uniform(rng, 0.1, 0.3)}
	case KindGain:
		return Op{Kind: k, Value: uniform(rng, -6, 6)}
	case KindReverb:
		return Op{Kind: k, Value: uniform(rng, 0.1, 0.4), Delay: DefaultReverbDelay}
	case KindMask:
		return Op{Kind: k, Value: uniform(rng, 0.3, 0.7)}
	case KindMix:
		bg := c.backgrounds[rng.IntN(len(c.backgrounds))]
		return Op{Kind: k, Value: uniform(rng, 5, 20), Background: bg}
	}
	return Op{Kind: k}
}

// Augment draws a set of operations and applies them to w in order.
func (c *Composer) Augment(w Waveform, rng *rand.Rand) (Waveform, []Op) {
	ops := c.Draw(rng)
	out := w.Clone()
	for _, op := range ops {
		out = op.Apply(out, rng)
	}
	return out, ops
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}
