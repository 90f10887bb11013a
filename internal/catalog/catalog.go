// Package catalog holds the immutable table of target categories: display
// metadata, quotas, external labels, natural sub-folders and synthesis shape.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hearalert/soundbank/internal/synth"
	"github.com/hearalert/soundbank/internal/taxonomy"
)

//go:embed default.yaml
var defaultYAML []byte

var (
	// ErrUnknownCategory is returned when a category id is not in the catalog.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrInvalidCatalog is returned when a catalog document fails validation.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Category describes one target category.
type Category struct {
	Name           string   `yaml:"name" json:"name" validate:"required"`
	DisplayName    string   `yaml:"display_name" json:"display_name" validate:"required"`
	Priority       int      `yaml:"priority" json:"priority" validate:"min=1,max=10"`
	AlertType      string   `yaml:"alert_type" json:"alert_type" validate:"oneof=critical high medium low none"`
	Quota          int      `yaml:"quota,omitempty" json:"quota,omitempty" validate:"min=0"`
	ExternalLabels []string `yaml:"external_labels,omitempty" json:"external_labels,omitempty"`
	NaturalSources []string `yaml:"natural_sources,omitempty" json:"natural_sources,omitempty"`
	Synth          string   `yaml:"synth,omitempty" json:"synth,omitempty"`
}

type document struct {
	Version      int        `yaml:"version" validate:"min=1"`
	DefaultQuota int        `yaml:"default_quota" validate:"min=1"`
	Categories   []Category `yaml:"categories" validate:"required,min=1,dive"`
}

// Catalog is an ordered, read-only set of categories.
type Catalog struct {
	defaultQuota int
	categories   []Category
	index        map[string]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return build(doc.DefaultQuota, doc.Categories)
}

func build(defaultQuota int, categories []Category) (*Catalog, error) {
	c := &Catalog{
		defaultQuota: defaultQuota,
		categories:   make([]Category, 0, len(categories)),
		index:        make(map[string]int, len(categories)),
	}
	for _, cat := range categories {
		if _, dup := c.index[cat.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidCatalog, cat.Name)
		}
		if _, err := synth.ParseShape(cat.Synth); err != nil {
			return nil, fmt.Errorf("%w: category %s: %v", ErrInvalidCatalog, cat.Name, err)
		}
		cat.ExternalLabels = slices.Clone(cat.ExternalLabels)
		cat.NaturalSources = slices.Clone(cat.NaturalSources)
		c.index[cat.Name] = len(c.categories)
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

// WithDefaultQuota returns a copy whose categories without an explicit quota
// use q. Non-positive q leaves the catalog unchanged. The copy shares the
// read-only category table.
func (c *Catalog) WithDefaultQuota(q int) *Catalog {
	if q <= 0 {
		return c
	}
	out := *c
	out.defaultQuota = q
	return &out
}

// Subset returns a catalog restricted to names, in catalog order.
func (c *Catalog) Subset(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.index[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, n)
		}
		want[n] = true
	}
	var picked []Category
	for _, cat := range c.categories {
		if want[cat.Name] {
			picked = append(picked, cat)
		}
	}
	return build(c.defaultQuota, picked)
}

// Get returns the category named name.
func (c *Catalog) Get(name string) (Category, error) {
	i, ok := c.index[name]
	if !ok {
		return Category{}, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}
	cat := c.categories[i]
	cat.ExternalLabels = slices.Clone(cat.ExternalLabels)
	cat.NaturalSources = slices.Clone(cat.NaturalSources)
	return cat, nil
}

// Categories returns every category in catalog order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.ExternalLabels = slices.Clone(cat.ExternalLabels)
		cat.NaturalSources = slices.Clone(cat.NaturalSources)
		out[i] = cat
	}
	return out
}

// Names returns every category id in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.Name
	}
	return out
}

// Quota returns the target clip count for name.
func (c *Catalog) Quota(name string) int {
	i, ok := c.index[name]
	if !ok {
		return 0
	}
	if q := c.categories[i].Quota; q > 0 {
		return q
	}
	return c.defaultQuota
}

// Mapper builds the external label table.
func (c *Catalog) Mapper() *taxonomy.Mapper {
	table := make(map[string][]string, len(c.categories))
	for _, cat := range c.categories {
		table[cat.Name] = cat.ExternalLabels
	}
	return taxonomy.NewMapper(table)
}

// Shapes returns the explicit synthesis shape of every category that has one.
func (c *Catalog) Shapes() map[string]synth.Shape {
	out := make(map[string]synth.Shape)
	for _, cat := range c.categories {
		if cat.Synth != "" {
			out[cat.Name] = synth.Shape(cat.Synth)
		}
	}
	return out
}
