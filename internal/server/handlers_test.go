package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearalert/soundbank/internal/assemble"
	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/collect"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pipeline"
	"github.com/hearalert/soundbank/internal/run"
	"github.com/hearalert/soundbank/internal/storage"
	"github.com/hearalert/soundbank/internal/synth"
)

const testCatalog = `version: 1
default_quota: 4
categories:
  - name: siren
    display_name: Emergency Siren
    priority: 10
    alert_type: critical
    synth: wail
  - name: doorbell
    display_name: Doorbell
    priority: 9
    alert_type: high
    quota: 2
    synth: triple_beep
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) *pipeline.Service {
	t.Helper()
	return newTestServiceWithLedger(t, ledger.NewMemory())
}

func newTestServiceWithLedger(t *testing.T, l ledger.Ledger) *pipeline.Service {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	registry, err := synth.NewRegistry(cat.Shapes())
	require.NoError(t, err)
	output, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	dataset, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	logger := testLogger()
	collector := collect.NewCollector(logger, collect.NewNaturalSource(t.TempDir(), cat))
	return pipeline.NewService(cat, collector, output, dataset, l, registry, run.NewMemoryRepository(),
		pipeline.WithLogger(logger),
		pipeline.WithSettings(pipeline.Settings{
			Workers:     2,
			SynthParams: synth.Params{SampleRate: 8000, Duration: 250 * time.Millisecond},
		}),
	)
}

func newTestHandlers(t *testing.T) (*Handlers, *pipeline.Service) {
	t.Helper()
	svc := newTestService(t)
	// Runs are executed explicitly so tests control timing
	return NewHandlers(svc, testLogger(), WithAsyncProcessing(false), WithDefaultSeed(42)), svc
}

func postRun(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestListCategories(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.ListCategories(rec, httptest.NewRequest(http.MethodGet, "/categories", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp []CategoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, CategoryResponse{Name: "siren", DisplayName: "Emergency Siren", Priority: 10, AlertType: "critical", Quota: 4}, resp[0])
	assert.Equal(t, 2, resp[1].Quota)
}

func TestCreateRun_Success(t *testing.T) {
	h, svc := newTestHandlers(t)

	rec := postRun(t, http.HandlerFunc(h.CreateRun), `{"seed": 7, "categories": ["siren"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)
	assert.Equal(t, uint64(7), resp.Seed)

	created, err := svc.GetRun(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"siren"}, created.Categories)
}

func TestCreateRun_EmptyBodyUsesDefaults(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	rec := httptest.NewRecorder()
	h.CreateRun(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, uint64(42), resp.Seed)
}

func TestCreateRun_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postRun(t, http.HandlerFunc(h.CreateRun), "not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateRun_ValidationError_EmptyCategory(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postRun(t, http.HandlerFunc(h.CreateRun), `{"categories": ["siren", ""]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestCreateRun_UnknownCategory(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postRun(t, http.HandlerFunc(h.CreateRun), `{"categories": ["unicorn"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "UNKNOWN_CATEGORY", resp.Code)
	assert.Contains(t, resp.Error, "unicorn")
}

func TestGetRun_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/runs/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "RUN_NOT_FOUND", resp.Code)
}

func TestGetRun_MissingID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/", nil)
	rec := httptest.NewRecorder()
	h.GetRun(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "MISSING_RUN_ID", resp.Code)
}

func TestGetManifest_NotReady(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	rec := postRun(t, router, `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	req := httptest.NewRequest(http.MethodGet, "/runs/"+created.ID+"/manifest", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "MANIFEST_NOT_READY", resp.Code)
}

func TestRouter_Integration(t *testing.T) {
	h, svc := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postRun(t, router, `{"seed": 3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	_, err := svc.Execute(context.Background(), created.ID)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/runs/"+created.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "COMPLETED", got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 6, got.TotalFiles)
	assert.Len(t, got.Results, 2)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	req = httptest.NewRequest(http.MethodGet, "/runs/"+created.ID+"/manifest", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	m, err := assemble.ReadManifest(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 6, m.Metadata.TotalFiles)
	assert.Equal(t, uint64(3), m.Metadata.Seed)
}

func TestCreateRun_AsyncExecutes(t *testing.T) {
	svc := newTestService(t)
	h := NewHandlers(svc, testLogger())
	router := NewRouter(h, testLogger(), DefaultConfig())

	rec := postRun(t, router, `{"categories": ["doorbell"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	require.Eventually(t, func() bool {
		r, err := svc.GetRun(context.Background(), created.ID)
		return err == nil && r.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	r, err := svc.GetRun(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
}

// blockingLedger holds List until release is closed.
type blockingLedger struct {
	ledger.Ledger
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingLedger) List(ctx context.Context, category string) ([]ledger.Entry, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Ledger.List(ctx, category)
}

func TestCreateRun_ConflictWhileRunExecutes(t *testing.T) {
	bl := &blockingLedger{Ledger: ledger.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestServiceWithLedger(t, bl)
	h := NewHandlers(svc, testLogger(), WithAsyncProcessing(false), WithDefaultSeed(42))

	created, err := svc.CreateRun(context.Background(), 1, []string{"doorbell"})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), created.ID)
		done <- err
	}()
	<-bl.entered

	rec := postRun(t, http.HandlerFunc(h.CreateRun), `{"categories": ["siren"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "RUN_IN_PROGRESS", resp.Code)

	close(bl.release)
	require.NoError(t, <-done)

	rec = postRun(t, http.HandlerFunc(h.CreateRun), `{"categories": ["siren"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight
	req = httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := ChainMiddleware(RequestIDMiddleware(), LoggingMiddleware(logger))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "/brew", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}
