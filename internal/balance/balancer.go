// Package balance expands a category's pool to its target quota: originals
// first, then augmented variants when the pool is large enough, then
// synthetic clips. Every produced file is recorded in a ledger so reruns
// only fill what is missing.
package balance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/hearalert/soundbank/internal/collect"
	"github.com/hearalert/soundbank/internal/dsp"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pcm"
	"github.com/hearalert/soundbank/internal/seed"
	"github.com/hearalert/soundbank/internal/storage"
	"github.com/hearalert/soundbank/internal/synth"
)

// Provenance values written to the ledger for generated records.
const (
	ProvenanceAugmented = "augmented"
	ProvenanceSynthetic = "synthetic"
)

// DefaultPoolThreshold is the minimum number of natural plus external clips
// required before augmentation is used instead of synthesis.
const DefaultPoolThreshold = 20

// maxRedraws bounds how often a generated slot is redrawn after producing
// content identical to an earlier record.
const maxRedraws = 4

// Balancer fills category quotas.
type Balancer struct {
	store    storage.Storage
	ledger   ledger.Ledger
	composer *dsp.Composer
	registry *synth.Registry
	seeds    seed.Source

	threshold   int
	maxVariants int
	params      synth.Params
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Balancer) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPoolThreshold sets the minimum augmentable pool size.
func WithPoolThreshold(n int) Option {
	return func(b *Balancer) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithMaxVariantsPerClip caps how many augmented variants one source clip
// may seed. Zero means unlimited.
func WithMaxVariantsPerClip(n int) Option {
	return func(b *Balancer) {
		if n >= 0 {
			b.maxVariants = n
		}
	}
}

// WithSynthParams sets the synthetic output format.
func WithSynthParams(p synth.Params) Option {
	return func(b *Balancer) {
		b.params = p
	}
}

// WithClock overrides the ledger timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Balancer) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a Balancer. A nil composer disables augmentation and a nil
// registry disables synthesis.
func New(store storage.Storage, l ledger.Ledger, composer *dsp.Composer, registry *synth.Registry, seeds seed.Source, opts ...Option) *Balancer {
	b := &Balancer{
		store:     store,
		ledger:    l,
		composer:  composer,
		registry:  registry,
		seeds:     seeds,
		threshold: DefaultPoolThreshold,
		params:    synth.DefaultParams(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result summarises one balancing pass.
type Result struct {
	Category string
	Target   int
	Achieved int

	Original  int
	Augmented int
	Synthetic int

	// Written counts files produced by this pass; Reused counts ledger
	// entries whose files were already present.
	Written int
	Reused  int

	// Duplicates counts candidates rejected because their content matched
	// an earlier record of the category.
	Duplicates int

	// Warnings lists source clips that could not be decoded.
	Warnings []collect.Warning
	// Shortfall is Target-Achieved when the quota could not be met.
	Shortfall int
	// Records holds the category's entries in slot order.
	Records []ledger.Entry
}

// Balance brings pool's category up to quota.
func (b *Balancer) Balance(ctx context.Context, pool *collect.Pool, quota int) (*Result, error) {
	p, err := b.newPass(ctx, pool, quota)
	if err != nil {
		return nil, err
	}

	if err := p.originals(ctx); err != nil {
		return nil, err
	}
	if err := p.generated(ctx); err != nil {
		return nil, err
	}

	res := p.res
	res.Achieved = len(res.Records)
	if res.Achieved < quota {
		res.Shortfall = quota - res.Achieved
	}
	b.logger.Info("category balanced",
		slog.String("category", res.Category),
		slog.Int("target", res.Target),
		slog.Int("achieved", res.Achieved),
		slog.Int("original", res.Original),
		slog.Int("augmented", res.Augmented),
		slog.Int("synthetic", res.Synthetic),
		slog.Int("written", res.Written),
		slog.Int("reused", res.Reused),
		slog.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// pass holds the state of one Balance call.
type pass struct {
	*Balancer
	pool     *collect.Pool
	category string
	quota    int
	res      *Result

	existing map[string]ledger.Entry
	paths    map[string]string
	// seen maps output fingerprints to the record holding them; sources
	// does the same for original files.
	seen    map[string]string
	sources map[string]string
}

func (b *Balancer) newPass(ctx context.Context, pool *collect.Pool, quota int) (*pass, error) {
	entries, err := b.ledger.List(ctx, pool.Category)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", pool.Category, err)
	}
	p := &pass{
		Balancer: b,
		pool:     pool,
		category: pool.Category,
		quota:    quota,
		res:      &Result{Category: pool.Category, Target: quota},
		existing: make(map[string]ledger.Entry, len(entries)),
		paths:    make(map[string]string, len(entries)),
		seen:     make(map[string]string, quota),
		sources:  make(map[string]string, len(pool.Clips)),
	}
	for _, e := range entries {
		p.existing[e.ID] = e
		p.paths[e.Path] = e.ID
	}
	return p, nil
}

// done returns the ledger entry for id if its file is still present. Stale
// entries are forgotten so the slot is regenerated.
func (p *pass) done(ctx context.Context, id string) (ledger.Entry, bool, error) {
	e, ok := p.existing[id]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	exists, err := p.store.Exists(ctx, e.Path)
	if err != nil {
		return ledger.Entry{}, false, err
	}
	if exists {
		return e, true, nil
	}
	p.logger.Warn("ledger entry lost its file, regenerating",
		slog.String("category", p.category),
		slog.String("id", id),
		slog.String("path", e.Path),
	)
	if err := p.ledger.Forget(ctx, p.category, id); err != nil {
		return ledger.Entry{}, false, err
	}
	return ledger.Entry{}, false, nil
}

// pathFor returns the output path for id: its previous path if it had one,
// otherwise the first free {category}_{n:04d}_{suffix}.wav at or above hint.
func (p *pass) pathFor(id, suffix string, hint int) string {
	if e, ok := p.existing[id]; ok {
		return e.Path
	}
	for n := hint; ; n++ {
		path := fmt.Sprintf("%s/%s_%04d_%s.wav", p.category, p.category, n, suffix)
		if owner, taken := p.paths[path]; !taken || owner == id {
			p.paths[path] = id
			return path
		}
	}
}

func (p *pass) reuse(e ledger.Entry) {
	p.res.Reused++
	p.add(e)
}

func (p *pass) add(e ledger.Entry) {
	if e.Fingerprint != "" {
		p.seen[e.Fingerprint] = e.ID
	}
	switch e.Provenance {
	case ProvenanceAugmented:
		p.res.Augmented++
	case ProvenanceSynthetic:
		p.res.Synthetic++
	default:
		p.res.Original++
	}
	p.res.Records = append(p.res.Records, e)
}

func (p *pass) full() bool {
	return len(p.res.Records) >= p.quota
}

// fresh reports whether fingerprint is new to the category. Repeats are
// counted as duplicates.
func (p *pass) fresh(fingerprint, id string) bool {
	if fingerprint == "" {
		return true
	}
	owner, dup := p.seen[fingerprint]
	if !dup {
		return true
	}
	p.res.Duplicates++
	p.logger.Debug("rejected duplicate content",
		slog.String("category", p.category),
		slog.String("id", id),
		slog.String("duplicate_of", owner),
	)
	return false
}

// discard removes a rejected file and any ledger entry that pointed at it.
func (p *pass) discard(ctx context.Context, id, path string) error {
	if err := p.store.Remove(ctx, path); err != nil {
		return err
	}
	if _, ok := p.existing[id]; !ok {
		return nil
	}
	delete(p.existing, id)
	return p.ledger.Forget(ctx, p.category, id)
}

// slotRand returns the stream for one draw of a slot. Attempt zero is the
// slot's own stream; redraws branch off it.
func (p *pass) slotRand(kind string, slot, attempt int) *rand.Rand {
	if attempt == 0 {
		return p.seeds.Slot(p.category, kind, slot)
	}
	return p.seeds.Rand(p.category, kind, strconv.Itoa(slot), "redraw", strconv.Itoa(attempt))
}

// write encodes w to path and records it in the ledger. It returns false,
// leaving nothing behind, when the content duplicates an earlier record.
func (p *pass) write(ctx context.Context, id, path, provenance, detail string, w dsp.Waveform) (bool, error) {
	written, err := p.store.WriteFile(ctx, path, func(ws io.WriteSeeker) error {
		return pcm.Encode(ws, w)
	})
	if err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if !p.fresh(written.Fingerprint, id) {
		return false, p.discard(ctx, id, written.Path)
	}
	e := ledger.Entry{
		Category:    p.category,
		ID:          id,
		Path:        written.Path,
		Provenance:  provenance,
		Fingerprint: written.Fingerprint,
		Size:        written.Size,
		Duration:    w.Duration(),
		SampleRate:  w.SampleRate,
		Detail:      detail,
		CreatedAt:   p.now().UTC(),
	}
	if err := p.ledger.Record(ctx, e); err != nil {
		return false, err
	}
	p.existing[id] = e
	p.res.Written++
	p.add(e)
	return true, nil
}

var originRank = map[string]int{
	collect.OriginNatural:  0,
	collect.OriginExternal: 1,
	collect.OriginPrior:    2,
}

// originals copies every pool clip until the quota is met: natural
// recordings first, then external, then prior output, each in ID order.
// Clips whose file content repeats an earlier clip are skipped.
func (p *pass) originals(ctx context.Context) error {
	clips := append([]*collect.Clip(nil), p.pool.Clips...)
	sort.Slice(clips, func(i, j int) bool {
		ri, rj := originRank[clips[i].Origin], originRank[clips[j].Origin]
		if ri != rj {
			return ri < rj
		}
		return clips[i].ID < clips[j].ID
	})

	for i, c := range clips {
		if p.full() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fp, err := c.Fingerprint()
		if err != nil {
			p.warn(c, err)
			continue
		}
		if owner, dup := p.sources[fp]; dup {
			p.res.Duplicates++
			p.logger.Debug("skipping duplicate original",
				slog.String("category", p.category),
				slog.String("clip", c.ID),
				slog.String("duplicate_of", owner),
			)
			continue
		}
		p.sources[fp] = c.ID

		id := "orig:" + c.ID
		if e, ok, err := p.done(ctx, id); err != nil {
			return err
		} else if ok {
			if p.fresh(e.Fingerprint, id) {
				p.reuse(e)
			}
			continue
		}

		w, _, err := pcm.DecodeFile(c.Path)
		if err != nil {
			p.warn(c, err)
			continue
		}
		if _, err := p.write(ctx, id, p.pathFor(id, "orig", i), c.Origin, c.ID, w); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) warn(c *collect.Clip, err error) {
	p.logger.Warn("skipping unreadable clip",
		slog.String("category", p.category),
		slog.String("path", c.Path),
		slog.String("error", err.Error()),
	)
	p.res.Warnings = append(p.res.Warnings, collect.Warning{Origin: c.Origin, Path: c.Path, Err: err})
}

// generated fills the remaining slots with augmented or synthetic clips.
// Slot numbering restarts at zero for every pass so that identical inputs
// resolve to identical record IDs.
func (p *pass) generated(ctx context.Context) error {
	need := p.quota - len(p.res.Records)
	if need <= 0 {
		return nil
	}

	planner := newAugmentPlanner(p.pool.ByOrigin(collect.OriginNatural, collect.OriginExternal), p.threshold, p.maxVariants)
	if p.composer == nil {
		planner.disable()
	}

	for slot := 0; slot < need; slot++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		augID := fmt.Sprintf("aug:%04d", slot)
		synthID := fmt.Sprintf("synth:%04d", slot)

		rng := p.seeds.Slot(p.category, "aug", slot)
		src := planner.pick(rng)

		reused, err := p.reuseSlot(ctx, augID, synthID)
		if err != nil {
			return err
		}
		if reused {
			continue
		}

		if src != nil {
			ok, err := p.augment(ctx, augID, slot, src)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			planner.drop(src)
			slot--
			continue
		}

		shape, ok := p.registryShape()
		if !ok {
			p.logger.Warn("no synthesis shape for category, quota not reachable",
				slog.String("category", p.category),
				slog.Int("missing", need-slot),
			)
			return nil
		}
		ok, err = p.synthesize(ctx, synthID, slot, shape)
		if err != nil {
			return err
		}
		if !ok {
			p.logger.Warn("synthesis keeps repeating content, slot left empty",
				slog.String("category", p.category),
				slog.String("shape", string(shape)),
				slog.Int("slot", slot),
			)
		}
	}
	return nil
}

// reuseSlot reuses the first of ids whose file is present. A recorded file
// that duplicates an earlier record is discarded so the slot is redrawn.
func (p *pass) reuseSlot(ctx context.Context, ids ...string) (bool, error) {
	for _, id := range ids {
		e, ok, err := p.done(ctx, id)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if !p.fresh(e.Fingerprint, id) {
			if err := p.discard(ctx, id, e.Path); err != nil {
				return false, err
			}
			continue
		}
		p.reuse(e)
		return true, nil
	}
	return false, nil
}

func (p *pass) registryShape() (synth.Shape, bool) {
	if p.registry == nil {
		return synth.ShapeNone, false
	}
	return p.registry.Resolve(p.category)
}

// augment writes one augmented variant of src. It returns false when the
// source cannot be decoded or every draw repeats an earlier record.
func (p *pass) augment(ctx context.Context, id string, slot int, src *collect.Clip) (bool, error) {
	w, _, err := pcm.DecodeFile(src.Path)
	if err != nil {
		p.warn(src, err)
		return false, nil
	}
	path := p.pathFor(id, "aug", slot)
	for attempt := range maxRedraws + 1 {
		out, ops := p.composer.Augment(w, p.slotRand("aug-ops", slot, attempt))
		out = dsp.Quantize16(dsp.Normalize(out))

		detail := src.ID + " " + dsp.Chain(ops)
		ok, err := p.write(ctx, id, path, ProvenanceAugmented, detail, out)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// synthesize writes one synthetic clip, redrawing when the generator
// repeats an earlier record.
func (p *pass) synthesize(ctx context.Context, id string, slot int, shape synth.Shape) (bool, error) {
	path := p.pathFor(id, "synth", slot)
	for attempt := range maxRedraws + 1 {
		w, err := synth.Generate(shape, p.slotRand("synth", slot, attempt), p.params)
		if err != nil {
			return false, fmt.Errorf("synthesize %s: %w", id, err)
		}
		ok, err := p.write(ctx, id, path, ProvenanceSynthetic, string(shape), w)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
