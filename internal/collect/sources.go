package collect

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/taxonomy"
)

// Source yields the clips of one origin for a category.
type Source interface {
	Name() string
	Collect(ctx context.Context, category string) ([]*Clip, []Warning, error)
}

// listWAV returns the .wav files directly under dir, sorted. A missing
// directory yields no files.
func listWAV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// NaturalSource reads a hand-recorded corpus laid out as root/<label>/*.wav.
type NaturalSource struct {
	root    string
	catalog *catalog.Catalog
}

var _ Source = (*NaturalSource)(nil)

// NewNaturalSource creates a NaturalSource. The catalog decides which
// sub-folders feed which category.
func NewNaturalSource(root string, cat *catalog.Catalog) *NaturalSource {
	return &NaturalSource{root: root, catalog: cat}
}

// Name implements Source.
func (s *NaturalSource) Name() string { return OriginNatural }

// Collect implements Source.
func (s *NaturalSource) Collect(ctx context.Context, category string) ([]*Clip, []Warning, error) {
	cat, err := s.catalog.Get(category)
	if err != nil {
		return nil, nil, err
	}

	var clips []*Clip
	var warnings []Warning
	for _, label := range cat.NaturalSources {
		dir := filepath.Join(s.root, label)
		names, err := listWAV(dir)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			path := filepath.Join(dir, name)
			c, err := NewClip(OriginNatural, label, category, path, label+"/"+name)
			if err != nil {
				warnings = append(warnings, Warning{Origin: OriginNatural, Path: path, Err: err})
				continue
			}
			clips = append(clips, c)
		}
	}
	return clips, warnings, nil
}

// Index maps external corpus filenames to their labels.
type Index map[string]string

// LoadIndex reads a CSV metadata table with "filename" and "category"
// columns.
func LoadIndex(r io.Reader) (Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	fileCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "filename":
			fileCol = i
		case "category":
			labelCol = i
		}
	}
	if fileCol < 0 || labelCol < 0 {
		return nil, errors.New("index header must contain filename and category columns")
	}

	idx := Index{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index: %w", err)
		}
		if fileCol >= len(rec) || labelCol >= len(rec) {
			continue
		}
		idx[strings.TrimSpace(rec[fileCol])] = strings.TrimSpace(rec[labelCol])
	}
	return idx, nil
}

// LoadIndexFile reads the index at path.
func LoadIndexFile(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadIndex(f)
}

// Files returns the filenames carrying any of labels, sorted.
func (idx Index) Files(labels ...string) []string {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var out []string
	for name, label := range idx {
		if want[label] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ExternalSource reads an environmental-sound corpus laid out as
// root/audio/*.wav with root/meta/esc50.csv as its index. The index is
// loaded once and shared read-only.
type ExternalSource struct {
	audioDir string
	index    Index
	mapper   *taxonomy.Mapper
}

var _ Source = (*ExternalSource)(nil)

// NewExternalSource loads root/meta/esc50.csv. A missing index yields an
// empty source.
func NewExternalSource(root string, mapper *taxonomy.Mapper) (*ExternalSource, error) {
	s := &ExternalSource{
		audioDir: filepath.Join(root, "audio"),
		index:    Index{},
		mapper:   mapper,
	}
	if root == "" {
		return s, nil
	}
	idx, err := LoadIndexFile(filepath.Join(root, "meta", "esc50.csv"))
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.index = idx
	return s, nil
}

// Name implements Source.
func (s *ExternalSource) Name() string { return OriginExternal }

// Collect implements Source.
func (s *ExternalSource) Collect(ctx context.Context, category string) ([]*Clip, []Warning, error) {
	return s.collect(ctx, category, s.mapper.LabelsFor(category))
}

// CollectLabels returns the clips carrying any of labels, regardless of
// category mapping.
func (s *ExternalSource) CollectLabels(ctx context.Context, labels []string) ([]*Clip, []Warning, error) {
	return s.collect(ctx, "", labels)
}

func (s *ExternalSource) collect(ctx context.Context, category string, labels []string) ([]*Clip, []Warning, error) {
	if len(labels) == 0 {
		return nil, nil, nil
	}
	var clips []*Clip
	var warnings []Warning
	for _, name := range s.index.Files(labels...) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := filepath.Join(s.audioDir, name)
		c, err := NewClip(OriginExternal, s.index[name], category, path, name)
		if err != nil {
			warnings = append(warnings, Warning{Origin: OriginExternal, Path: path, Err: err})
			continue
		}
		clips = append(clips, c)
	}
	return clips, warnings, nil
}

// PriorSource reads output trees of earlier pipeline stages laid out as
// dir/<category>/*.wav.
type PriorSource struct {
	dirs []string
}

var _ Source = (*PriorSource)(nil)

// NewPriorSource creates a PriorSource over dirs.
func NewPriorSource(dirs ...string) *PriorSource {
	return &PriorSource{dirs: dirs}
}

// Name implements Source.
func (s *PriorSource) Name() string { return OriginPrior }

// Collect implements Source.
func (s *PriorSource) Collect(ctx context.Context, category string) ([]*Clip, []Warning, error) {
	var clips []*Clip
	var warnings []Warning
	for _, root := range s.dirs {
		dir := filepath.Join(root, category)
		names, err := listWAV(dir)
		if err != nil {
			return nil, nil, err
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			path := filepath.Join(dir, name)
			rel := filepath.Base(root) + "/" + category + "/" + name
			c, err := NewClip(OriginPrior, filepath.Base(root), category, path, rel)
			if err != nil {
				warnings = append(warnings, Warning{Origin: OriginPrior, Path: path, Err: err})
				continue
			}
			clips = append(clips, c)
		}
	}
	return clips, warnings, nil
}
