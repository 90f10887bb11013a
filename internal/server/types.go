// Package server provides the HTTP API for dataset runs.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/hearalert/soundbank/internal/run"
)

// CreateRunRequest is the HTTP request body for starting a run.
type CreateRunRequest struct {
	// Seed overrides the configured seed.
	Seed *uint64 `json:"seed,omitempty"`
	// Categories restricts the run; empty means the whole catalog.
	Categories []string `json:"categories,omitempty" validate:"omitempty,max=256,dive,required"`
}

// CreateRunResponse is the HTTP response after creating a run.
type CreateRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Seed   uint64 `json:"seed"`
}

// RunResponse is the HTTP response for getting run details.
type RunResponse struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Seed       uint64   `json:"seed"`
	Categories []string `json:"categories,omitempty"`
	// Progress is the percentage of categories finished (0-100).
	Progress int                  `json:"progress"`
	Error    string               `json:"error,omitempty"`
	Results  []run.CategoryResult `json:"results"`
	// TotalFiles is set once the dataset is assembled.
	TotalFiles  int        `json:"total_files,omitempty"`
	ManifestURL string     `json:"manifest_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CategoryResponse describes one catalog category.
type CategoryResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Priority    int    `json:"priority"`
	AlertType   string `json:"alert_type"`
	Quota       int    `json:"quota"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func newRunResponse(r *run.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		Status:      string(r.Status),
		Seed:        r.Seed,
		Categories:  r.Categories,
		Progress:    r.Progress,
		Error:       r.Error,
		Results:     r.Results,
		TotalFiles:  r.TotalFiles,
		ManifestURL: r.ManifestURL,
		CreatedAt:   r.CreatedAt,
	}
	if resp.Results == nil {
		resp.Results = []run.CategoryResult{}
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt
		resp.StartedAt = &t
	}
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}
