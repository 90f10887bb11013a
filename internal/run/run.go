// Package run provides the Run aggregate: one execution of the dataset
// pipeline with its status state machine, per-category results and the
// location of the manifest it produced.
package run

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a Run.
type Status string

const (
	// StatusInQueue indicates the run was accepted but has not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates categories are being balanced.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the manifest was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run stopped before producing a manifest.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the run was cancelled.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// CategoryResult summarises one category job.
type CategoryResult struct {
	Category   string `json:"category"`
	Target     int    `json:"target"`
	Achieved   int    `json:"achieved"`
	Original   int    `json:"original"`
	Augmented  int    `json:"augmented"`
	Synthetic  int    `json:"synthetic"`
	Reused     int    `json:"reused"`
	Duplicates int    `json:"duplicates"`
	Warnings   int    `json:"warnings"`
	Shortfall  int    `json:"shortfall"`
	Error      string `json:"error,omitempty"`
}

// Run is one pipeline execution.
type Run struct {
	mu sync.RWMutex

	// ID is a UUID.
	ID     string
	Status Status
	// Seed roots every random stream of the run.
	Seed uint64
	// Categories restricts the run; empty means the whole catalog.
	Categories []string
	// Progress is the percentage of category jobs finished (0-100).
	Progress int
	Error    string
	Results  []CategoryResult

	// ManifestPath is relative to the dataset root.
	ManifestPath string
	// ManifestURL is set when the manifest was published to S3.
	ManifestURL string
	TotalFiles  int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a queued Run with a fresh UUID.
func New(seed uint64, categories []string) *Run {
	return NewWithID(uuid.NewString(), seed, categories)
}

// NewWithID creates a queued Run with the given ID.
func NewWithID(id string, seed uint64, categories []string) *Run {
	now := time.Now()
	return &Run{
		ID:         id,
		Status:     StatusInQueue,
		Seed:       seed,
		Categories: slices.Clone(categories),
		Results:    make([]CategoryResult, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo changes the status or returns ErrInvalidTransition.
func (r *Run) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}

	r.Status = status
	r.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		r.StartedAt = r.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// Start transitions the run from IN_QUEUE to RUNNING.
func (r *Run) Start() error {
	return r.TransitionTo(StatusRunning)
}

// Complete transitions the run to COMPLETED.
func (r *Run) Complete() error {
	return r.TransitionTo(StatusCompleted)
}

// Fail records errMsg and transitions the run to FAILED.
func (r *Run) Fail(errMsg string) error {
	r.mu.Lock()
	r.Error = errMsg
	r.mu.Unlock()
	return r.TransitionTo(StatusFailed)
}

// Cancel transitions the run to CANCELLED.
func (r *Run) Cancel() error {
	return r.TransitionTo(StatusCancelled)
}

// GetStatus returns the current status.
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// AddResult appends a finished category and updates Progress against total
// category jobs.
func (r *Run) AddResult(res CategoryResult, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
	if total > 0 {
		r.Progress = min(100, len(r.Results)*100/total)
	}
	r.UpdatedAt = time.Now()
}

// SetManifest records where the manifest was written.
func (r *Run) SetManifest(path, url string, totalFiles int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ManifestPath = path
	r.ManifestURL = url
	r.TotalFiles = totalFiles
	r.UpdatedAt = time.Now()
}

// IsTerminal reports whether the run can no longer change state.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status == StatusCompleted ||
		r.Status == StatusFailed ||
		r.Status == StatusCancelled
}

// Clone creates a deep copy for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Run{
		ID:           r.ID,
		Status:       r.Status,
		Seed:         r.Seed,
		Categories:   slices.Clone(r.Categories),
		Progress:     r.Progress,
		Error:        r.Error,
		Results:      slices.Clone(r.Results),
		ManifestPath: r.ManifestPath,
		ManifestURL:  r.ManifestURL,
		TotalFiles:   r.TotalFiles,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}
