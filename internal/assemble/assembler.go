// Package assemble merges balanced category pools into the final dataset:
// duplicates are dropped, each category is shuffled with a seeded stream and
// cut 80/10/10 into train, validation and test, and every clip is copied to
// a standardized name in the dataset tree.
package assemble

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/dsp"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pcm"
	"github.com/hearalert/soundbank/internal/seed"
	"github.com/hearalert/soundbank/internal/storage"
)

// Input is one category's balanced records.
type Input struct {
	Category string
	Records  []ledger.Entry
}

// Assembler builds the dataset tree and its manifest.
type Assembler struct {
	src     storage.Storage
	dst     storage.Storage
	catalog *catalog.Catalog
	seeds   seed.Source
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the manifest creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Assembler copying from src (the balancer output tree) into
// dst (the dataset tree).
func New(src, dst storage.Storage, cat *catalog.Catalog, seeds seed.Source, opts ...Option) *Assembler {
	a := &Assembler{
		src:     src,
		dst:     dst,
		catalog: cat,
		seeds:   seeds,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces the manifest for inputs. Categories are emitted in
// catalog order; empty categories are omitted.
func (a *Assembler) Assemble(ctx context.Context, runID string, inputs []Input) (*Manifest, error) {
	byName := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		if _, err := a.catalog.Get(in.Category); err != nil {
			return nil, err
		}
		byName[in.Category] = in
	}

	m := &Manifest{
		Metadata: Metadata{
			Name:       DatasetName,
			Version:    DatasetVersion,
			Created:    a.now().UTC(),
			RunID:      runID,
			Seed:       a.seeds.Base(),
			Categories: []CategoryStats{},
		},
		Splits: Splits{Train: []Item{}, Validation: []Item{}, Test: []Item{}},
	}

	for _, cat := range a.catalog.Categories() {
		in, ok := byName[cat.Name]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := a.category(ctx, m, cat, in.Records)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", cat.Name, err)
		}
		if stats.Count == 0 {
			continue
		}
		m.Metadata.Categories = append(m.Metadata.Categories, stats)
		m.Metadata.TotalFiles += stats.Count
	}

	counts := m.Counts()
	a.logger.Info("dataset assembled",
		slog.Int("total", m.Metadata.TotalFiles),
		slog.Int("train", counts.Train),
		slog.Int("validation", counts.Validation),
		slog.Int("test", counts.Test),
	)
	return m, nil
}

// Order returns records deduplicated by fingerprint, sorted by ID and then
// shuffled with the category's split stream. The second result counts the
// dropped duplicates.
func (a *Assembler) Order(category string, records []ledger.Entry) ([]ledger.Entry, int) {
	recs := append([]ledger.Entry(nil), records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	seen := make(map[string]bool, len(recs))
	kept := recs[:0]
	for _, e := range recs {
		if e.Fingerprint != "" {
			if seen[e.Fingerprint] {
				continue
			}
			seen[e.Fingerprint] = true
		}
		kept = append(kept, e)
	}

	rng := a.seeds.Rand(category, "split")
	rng.Shuffle(len(kept), func(i, j int) { kept[i], kept[j] = kept[j], kept[i] })
	return kept, len(recs) - len(kept)
}

func (a *Assembler) category(ctx context.Context, m *Manifest, cat catalog.Category, records []ledger.Entry) (CategoryStats, error) {
	recs, dups := a.Order(cat.Name, records)
	stats := CategoryStats{
		Name:        cat.Name,
		DisplayName: cat.DisplayName,
		Count:       len(recs),
		Priority:    cat.Priority,
		AlertType:   cat.AlertType,
		SampleRates: map[int]int{},
		Duplicates:  dups,
	}
	if len(recs) == 0 {
		return stats, nil
	}
	if dups > 0 {
		a.logger.Info("dropped duplicate clips",
			slog.String("category", cat.Name),
			slog.Int("duplicates", dups),
		)
	}

	trainEnd, valEnd := CutPoints(len(recs))
	durations := make([]float64, len(recs))
	var low, mid, high []float64
	for i, e := range recs {
		file := fmt.Sprintf("%s/%s_%04d.wav", cat.Name, cat.Name, i)
		if err := a.copy(ctx, e, file); err != nil {
			return stats, err
		}

		item := Item{
			File:       file,
			Category:   cat.Name,
			DurationMS: e.Duration.Milliseconds(),
			SampleRate: e.SampleRate,
		}
		switch {
		case i < trainEnd:
			m.Splits.Train = append(m.Splits.Train, item)
			stats.Splits.Train++
		case i < valEnd:
			m.Splits.Validation = append(m.Splits.Validation, item)
			stats.Splits.Validation++
		default:
			m.Splits.Test = append(m.Splits.Test, item)
			stats.Splits.Test++
		}

		durations[i] = float64(item.DurationMS)
		stats.TotalSizeBytes += e.Size
		stats.SampleRates[e.SampleRate]++

		if shares, ok := a.bandShares(e); ok {
			low = append(low, shares[0])
			mid = append(mid, shares[1])
			high = append(high, shares[2])
		}
	}
	stats.TotalDurationMS = int64(floats.Sum(durations))
	stats.MeanDurationMS = stat.Mean(durations, nil)
	if len(low) > 0 {
		stats.Bands = BandProfile{
			Low:      stat.Mean(low, nil),
			Mid:      stat.Mean(mid, nil),
			High:     stat.Mean(high, nil),
			Analyzed: len(low),
		}
	}
	return stats, nil
}

var bandEdges = []float64{0, 500, 2000, math.Inf(1)}

// bandShares decodes e and splits its energy across bandEdges. Silent or
// undecodable clips report false.
func (a *Assembler) bandShares(e ledger.Entry) ([]float64, bool) {
	w, _, err := pcm.DecodeFile(filepath.Join(a.src.Root(), filepath.FromSlash(e.Path)))
	if err != nil {
		a.logger.Debug("clip left out of band profile",
			slog.String("category", e.Category),
			slog.String("path", e.Path),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	shares := dsp.BandEnergy(w, bandEdges...)
	total := floats.Sum(shares)
	if total == 0 {
		return nil, false
	}
	floats.Scale(1/total, shares)
	return shares, true
}

func (a *Assembler) copy(ctx context.Context, e ledger.Entry, dest string) error {
	written, err := a.dst.WriteFile(ctx, dest, func(w io.WriteSeeker) error {
		rc, err := a.src.Open(ctx, e.Path)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		_, err = io.Copy(w, rc)
		return err
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", e.Path, err)
	}
	if e.Fingerprint != "" && written.Fingerprint != e.Fingerprint {
		a.logger.Warn("clip changed since it was recorded",
			slog.String("category", e.Category),
			slog.String("id", e.ID),
			slog.String("path", e.Path),
		)
	}
	return nil
}
