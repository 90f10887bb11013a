package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/pipeline"
	"github.com/hearalert/soundbank/internal/run"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *pipeline.Service
	validator          *validator.Validate
	logger             *slog.Logger
	defaultSeed        uint64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateRun only queues the run and returns immediately
// without executing it.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithDefaultSeed sets the seed used when a request does not carry one.
func WithDefaultSeed(seed uint64) HandlerOption {
	return func(h *Handlers) {
		h.defaultSeed = seed
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *pipeline.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListCategories handles GET /categories requests.
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	cat := h.service.Catalog()
	out := make([]CategoryResponse, 0, len(cat.Names()))
	for _, c := range cat.Categories() {
		out = append(out, CategoryResponse{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Priority:    c.Priority,
			AlertType:   c.AlertType,
			Quota:       cat.Quota(c.Name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateRun handles POST /runs requests.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if h.service.Busy() {
		writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error(), "RUN_IN_PROGRESS")
		return
	}

	seed := h.defaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	created, err := h.service.CreateRun(r.Context(), seed, req.Categories)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownCategory) {
			writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_CATEGORY")
			return
		}
		h.logger.Error("failed to create run",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create run", "RUN_CREATION_FAILED")
		return
	}

	// The run outlives the request, so it gets a detached context.
	if h.enableAsyncProcess {
		go func(ctx context.Context, runID string) {
			if _, execErr := h.service.Execute(ctx, runID); execErr != nil {
				h.logger.Error("background run failed",
					slog.String("run_id", runID),
					slog.String("error", execErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("run created",
		slog.String("run_id", created.ID),
		slog.Uint64("seed", seed),
		slog.Int("categories", len(req.Categories)),
	)

	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		ID:     created.ID,
		Status: string(created.GetStatus()),
		Seed:   seed,
	})
}

// GetRun handles GET /runs/{id} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	found, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.runLookupError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(found))
}

// GetManifest handles GET /runs/{id}/manifest requests.
func (h *Handlers) GetManifest(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	rc, err := h.service.OpenManifest(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrManifestNotReady) {
			writeError(w, http.StatusConflict, "manifest not ready", "MANIFEST_NOT_READY")
			return
		}
		h.runLookupError(w, runID, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("failed to stream manifest",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) runLookupError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, run.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get run",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get run", "RUN_FETCH_FAILED")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
