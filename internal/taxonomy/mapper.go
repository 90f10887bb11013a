// Package taxonomy maps labels of an external sound corpus onto target
// categories.
package taxonomy

import (
	"slices"
	"sort"
)

// Mapper is an immutable bidirectional label table. A category may draw
// from several labels and a label may feed several categories.
type Mapper struct {
	byCategory map[string][]string
	byLabel    map[string][]string
}

// NewMapper builds a Mapper from category id to qualifying labels. Label
// order per category is kept; duplicates are dropped.
func NewMapper(table map[string][]string) *Mapper {
	m := &Mapper{
		byCategory: make(map[string][]string, len(table)),
		byLabel:    make(map[string][]string),
	}
	for category, labels := range table {
		seen := make(map[string]bool, len(labels))
		for _, label := range labels {
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			m.byCategory[category] = append(m.byCategory[category], label)
			m.byLabel[label] = append(m.byLabel[label], category)
		}
	}
	for label := range m.byLabel {
		sort.Strings(m.byLabel[label])
	}
	return m
}

// LabelsFor returns the labels that qualify for category, in table order.
func (m *Mapper) LabelsFor(category string) []string {
	return slices.Clone(m.byCategory[category])
}

// CategoriesFor returns the categories label feeds, sorted.
func (m *Mapper) CategoriesFor(label string) []string {
	return slices.Clone(m.byLabel[label])
}

// Qualifies reports whether label feeds category.
func (m *Mapper) Qualifies(label, category string) bool {
	return slices.Contains(m.byCategory[category], label)
}

// Labels returns every mapped label, sorted.
func (m *Mapper) Labels() []string {
	out := make([]string, 0, len(m.byLabel))
	for label := range m.byLabel {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
