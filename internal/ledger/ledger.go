// Package ledger records every clip the balancer has produced so that reruns
// can tell finished work from missing work without trusting the filesystem
// alone.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no entry exists for a record identifier.
var ErrNotFound = errors.New("ledger entry not found")

// Entry describes one produced output file.
type Entry struct {
	// Category is the target category the clip belongs to.
	Category string
	// ID identifies the record within its category, e.g. "synth:0007".
	ID string
	// Path is the output file, relative to the output root.
	Path string
	// Provenance is natural, external, prior, augmented or synthetic.
	Provenance string
	// Fingerprint is the hex SHA-256 of the written file.
	Fingerprint string
	Size        int64
	Duration    time.Duration
	SampleRate  int
	// Detail holds the source clip and op chain for augmented records, or
	// the shape for synthetic ones.
	Detail    string
	CreatedAt time.Time
}

// Ledger persists entries per category.
type Ledger interface {
	// List returns a category's entries ordered by ID.
	List(ctx context.Context, category string) ([]Entry, error)

	// Get returns one entry or ErrNotFound.
	Get(ctx context.Context, category, id string) (Entry, error)

	// Record inserts or replaces an entry.
	Record(ctx context.Context, e Entry) error

	// Forget removes an entry. Removing a missing entry is not an error.
	Forget(ctx context.Context, category, id string) error
}
