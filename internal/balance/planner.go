package balance

import (
	"math/rand/v2"
	"sort"

	"github.com/hearalert/soundbank/internal/collect"
)

// augmentPlanner picks source clips for augmented slots. Each slot draws a
// clip at random; when that clip has seeded its maximum number of variants
// the next clip in ID order is tried. Once every clip is spent the pool's
// variety is exhausted and pick returns nil for the rest of the pass.
type augmentPlanner struct {
	sources     []*collect.Clip
	used        []int
	dead        []bool
	maxVariants int
	enabled     bool
}

func newAugmentPlanner(sources []*collect.Clip, threshold, maxVariants int) *augmentPlanner {
	sources = append([]*collect.Clip(nil), sources...)
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return &augmentPlanner{
		sources:     sources,
		used:        make([]int, len(sources)),
		dead:        make([]bool, len(sources)),
		maxVariants: maxVariants,
		enabled:     len(sources) > 0 && len(sources) >= threshold,
	}
}

func (a *augmentPlanner) disable() {
	a.enabled = false
}

func (a *augmentPlanner) available(i int) bool {
	if a.dead[i] {
		return false
	}
	return a.maxVariants == 0 || a.used[i] < a.maxVariants
}

// pick chooses the source for the next slot, or nil when augmentation is
// disabled or exhausted.
func (a *augmentPlanner) pick(rng *rand.Rand) *collect.Clip {
	if !a.enabled {
		return nil
	}
	n := len(a.sources)
	start := rng.IntN(n)
	for k := range n {
		i := (start + k) % n
		if a.available(i) {
			a.used[i]++
			return a.sources[i]
		}
	}
	a.enabled = false
	return nil
}

// drop removes a source that failed to decode.
func (a *augmentPlanner) drop(c *collect.Clip) {
	for i, s := range a.sources {
		if s == c {
			a.dead[i] = true
		}
	}
}
