package assemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/dsp"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pcm"
	"github.com/hearalert/soundbank/internal/seed"
	"github.com/hearalert/soundbank/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	src, dst *storage.LocalStorage
	catalog  *catalog.Catalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	dst, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cat, err := catalog.Default()
	require.NoError(t, err)
	return &harness{src: src, dst: dst, catalog: cat}
}

func (h *harness) assembler(base uint64) *Assembler {
	return New(h.src, h.dst, h.catalog, seed.New(base), WithClock(func() time.Time { return fixedNow }))
}

// records writes n distinct clips for category into the source tree.
func (h *harness) records(t *testing.T, category string, n int) []ledger.Entry {
	t.Helper()
	out := make([]ledger.Entry, n)
	for i := range n {
		path := fmt.Sprintf("%s/%s_%04d_synth.wav", category, category, i)
		w, err := h.src.WriteFile(context.Background(), path, func(ws io.WriteSeeker) error {
			_, err := fmt.Fprintf(ws, "%s clip %d", category, i)
			return err
		})
		require.NoError(t, err)
		out[i] = ledger.Entry{
			Category:    category,
			ID:          fmt.Sprintf("synth:%04d", i),
			Path:        w.Path,
			Provenance:  "synthetic",
			Fingerprint: w.Fingerprint,
			Size:        w.Size,
			Duration:    5 * time.Second,
			SampleRate:  44100,
		}
	}
	return out
}

func TestCutPoints(t *testing.T) {
	tests := []struct {
		n, train, val int
	}{
		{100, 80, 90},
		{50, 40, 45},
		{10, 8, 9},
		{7, 5, 6},
		{1, 0, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		train, val := CutPoints(tt.n)
		assert.Equal(t, tt.train, train, "n=%d", tt.n)
		assert.Equal(t, tt.val, val, "n=%d", tt.n)
	}
}

func TestAssemble_SplitsPartitionCategory(t *testing.T) {
	h := newHarness(t)
	recs := h.records(t, "siren", 100)

	m, err := h.assembler(42).Assemble(context.Background(), "run-1", []Input{{Category: "siren", Records: recs}})
	require.NoError(t, err)

	assert.Equal(t, SplitCounts{Train: 80, Validation: 10, Test: 10}, m.Counts())
	assert.Equal(t, 100, m.Metadata.TotalFiles)

	files := map[string]bool{}
	for _, items := range [][]Item{m.Splits.Train, m.Splits.Validation, m.Splits.Test} {
		for _, it := range items {
			assert.False(t, files[it.File], "duplicate %s", it.File)
			files[it.File] = true
			assert.Equal(t, "siren", it.Category)
			assert.Equal(t, int64(5000), it.DurationMS)

			_, err := os.Stat(filepath.Join(h.dst.Root(), it.File))
			assert.NoError(t, err)
		}
	}
	assert.Len(t, files, 100)
	for i := range 100 {
		assert.True(t, files[fmt.Sprintf("siren/siren_%04d.wav", i)], i)
	}
}

func TestAssemble_CopiesEveryRecordOnce(t *testing.T) {
	h := newHarness(t)
	recs := h.records(t, "siren", 20)

	_, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "siren", Records: recs}})
	require.NoError(t, err)

	want := map[string]bool{}
	for i := range 20 {
		want[fmt.Sprintf("siren clip %d", i)] = true
	}
	got := map[string]bool{}
	entries, err := os.ReadDir(filepath.Join(h.dst.Root(), "siren"))
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(h.dst.Root(), "siren", e.Name()))
		require.NoError(t, err)
		got[string(data)] = true
	}
	assert.Equal(t, want, got)
}

func TestAssemble_Metadata(t *testing.T) {
	h := newHarness(t)
	siren := h.records(t, "siren", 10)
	siren[3].SampleRate = 22050
	dog := h.records(t, "dog_bark", 4)

	m, err := h.assembler(7).Assemble(context.Background(), "run-7", []Input{
		{Category: "siren", Records: siren},
		{Category: "dog_bark", Records: dog},
		{Category: "cat_meow"},
	})
	require.NoError(t, err)

	assert.Equal(t, DatasetName, m.Metadata.Name)
	assert.Equal(t, fixedNow, m.Metadata.Created)
	assert.Equal(t, "run-7", m.Metadata.RunID)
	assert.Equal(t, uint64(7), m.Metadata.Seed)
	assert.Equal(t, 14, m.Metadata.TotalFiles)
	require.Len(t, m.Metadata.Categories, 2, "empty categories are omitted")

	byName := map[string]CategoryStats{}
	for _, c := range m.Metadata.Categories {
		byName[c.Name] = c
	}
	s := byName["siren"]
	cat, _ := h.catalog.Get("siren")
	assert.Equal(t, cat.DisplayName, s.DisplayName)
	assert.Equal(t, cat.Priority, s.Priority)
	assert.Equal(t, int64(50000), s.TotalDurationMS)
	assert.InDelta(t, 5000, s.MeanDurationMS, 1e-9)
	assert.Equal(t, map[int]int{44100: 9, 22050: 1}, s.SampleRates)
	assert.Equal(t, SplitCounts{Train: 8, Validation: 1, Test: 1}, s.Splits)

	var size int64
	for _, e := range siren {
		size += e.Size
	}
	assert.Equal(t, size, s.TotalSizeBytes)
	assert.Equal(t, SplitCounts{Train: 3, Validation: 0, Test: 1}, byName["dog_bark"].Splits)
}

// tone writes a 1 s sine at f Hz into the source tree.
func (h *harness) tone(t *testing.T, category string, f float64) ledger.Entry {
	t.Helper()
	w := dsp.Zeros(8000, 8000)
	for i := range w.Samples {
		w.Samples[i] = 0.5 * math.Sin(2*math.Pi*f*float64(i)/8000)
	}
	path := fmt.Sprintf("%s/%s_%.0f_synth.wav", category, category, f)
	written, err := h.src.WriteFile(context.Background(), path, func(ws io.WriteSeeker) error {
		return pcm.Encode(ws, dsp.Quantize16(w))
	})
	require.NoError(t, err)
	return ledger.Entry{
		Category:    category,
		ID:          fmt.Sprintf("synth:%04.0f", f),
		Path:        written.Path,
		Fingerprint: written.Fingerprint,
		Size:        written.Size,
		Duration:    time.Second,
		SampleRate:  8000,
	}
}

func TestAssemble_BandProfile(t *testing.T) {
	h := newHarness(t)
	recs := append(h.records(t, "siren", 1), h.tone(t, "siren", 1000), h.tone(t, "siren", 1200))

	m, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "siren", Records: recs}})
	require.NoError(t, err)
	require.Len(t, m.Metadata.Categories, 1)

	bands := m.Metadata.Categories[0].Bands
	assert.Equal(t, 2, bands.Analyzed, "undecodable clips are left out")
	assert.Greater(t, bands.Mid, 0.95)
	assert.InDelta(t, 1.0, bands.Low+bands.Mid+bands.High, 1e-9)
}

func TestAssemble_UnknownCategory(t *testing.T) {
	h := newHarness(t)
	_, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "unicorn"}})
	assert.ErrorIs(t, err, catalog.ErrUnknownCategory)
}

func TestAssemble_MissingSourceFails(t *testing.T) {
	h := newHarness(t)
	recs := h.records(t, "siren", 3)
	require.NoError(t, os.Remove(filepath.Join(h.src.Root(), recs[1].Path)))

	_, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "siren", Records: recs}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOrder_DeduplicatesByFingerprint(t *testing.T) {
	h := newHarness(t)
	recs := h.records(t, "siren", 5)
	dup := recs[2]
	dup.ID = "orig:natural:Siren/copy.wav"
	recs = append(recs, dup)

	kept, dups := h.assembler(3).Order("siren", recs)
	assert.Len(t, kept, 5)
	assert.Equal(t, 1, dups)

	ids := map[string]bool{}
	for _, e := range kept {
		ids[e.ID] = true
	}
	assert.True(t, ids["orig:natural:Siren/copy.wav"], "the lowest ID of a duplicate group is kept")
	assert.False(t, ids["synth:0002"])
}

func TestOrder_Deterministic(t *testing.T) {
	h := newHarness(t)
	recs := h.records(t, "siren", 30)

	reversed := make([]ledger.Entry, len(recs))
	for i, e := range recs {
		reversed[len(recs)-1-i] = e
	}

	a, _ := h.assembler(9).Order("siren", recs)
	b, _ := h.assembler(9).Order("siren", reversed)
	assert.Equal(t, a, b, "input order does not matter")

	c, _ := h.assembler(10).Order("siren", recs)
	assert.NotEqual(t, a, c, "a different seed reorders")
}

func TestManifest_JSONLayout(t *testing.T) {
	h := newHarness(t)
	m, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "siren", Records: h.records(t, "siren", 10)}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.WriteJSON(&buf))

	var doc map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Contains(t, doc["metadata"], "total_files")
	assert.Contains(t, doc["metadata"], "categories")
	for _, split := range []string{SplitTrain, SplitValidation, SplitTest} {
		assert.Contains(t, doc["splits"], split)
	}

	back, err := ReadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Counts(), back.Counts())
	assert.Equal(t, m.Splits.Train[0], back.Splits.Train[0])
}

func TestManifest_TrainingYAML(t *testing.T) {
	h := newHarness(t)
	m, err := h.assembler(1).Assemble(context.Background(), "", []Input{{Category: "siren", Records: h.records(t, "siren", 10)}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.WriteTrainingYAML(&buf))

	var doc struct {
		Training struct {
			Model struct {
				Base string `yaml:"base"`
			} `yaml:"model"`
		} `yaml:"training_config"`
		Categories map[string]TrainingCategory `yaml:"categories"`
		Splits     SplitCounts                 `yaml:"splits"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "yamnet", doc.Training.Model.Base)
	assert.Equal(t, 10, doc.Categories["siren"].FileCount)
	assert.Equal(t, SplitCounts{Train: 8, Validation: 1, Test: 1}, doc.Splits)
}
