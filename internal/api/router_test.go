package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/api/shared"
	"github.com/phrazzld/snippet-runner/internal/task"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	status task.Status
	active bool
}

func (f *fakeSource) Status() (task.Status, bool) { return f.status, f.active }

func activeSource() *fakeSource {
	return &fakeSource{
		active: true,
		status: task.Status{
			RunID:      "run-1",
			Mode:       task.ModeContinuous,
			State:      task.StateIdle,
			Pending:    3,
			BacklogCap: 80,
			Counts:     task.Counts{Success: 10, BadInput: 1, Retryable: 2},
			RetryFile:  "/tmp/retry-1.jsonl",
			StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := serve(t, NewRouter(&fakeSource{}, setupTestLogger()), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestStatus_ActiveRun(t *testing.T) {
	t.Parallel()

	w := serve(t, NewRouter(activeSource(), setupTestLogger()), "/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got task.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, activeSource().status, got)
}

func TestStatus_Counts(t *testing.T) {
	t.Parallel()

	w := serve(t, NewRouter(activeSource(), setupTestLogger()), "/status/counts")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":10,"bad_input":1,"retryable":2,"critical":0}`, w.Body.String())
}

func TestStatus_NoActiveRun(t *testing.T) {
	t.Parallel()

	router := NewRouter(&fakeSource{}, setupTestLogger())
	for _, path := range []string{"/status", "/status/counts"} {
		w := serve(t, router, path)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)

		var resp shared.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "no active run", resp.Error)
		assert.NotEmpty(t, resp.TraceID, "errors carry the trace ID")
	}
}

func TestStatus_CORS(t *testing.T) {
	t.Parallel()
	h := NewRouter(activeSource(), setupTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest(http.MethodOptions, "/status", nil)
	preflight.Header.Set("Origin", "http://dashboard.local")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, preflight)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestStatus_UnknownRoute(t *testing.T) {
	t.Parallel()

	w := serve(t, NewRouter(activeSource(), setupTestLogger()), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, err := Start("127.0.0.1:0", NewRouter(activeSource(), setupTestLogger()), setupTestLogger())
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/health")
	assert.Error(t, err, "server no longer accepts connections")
}

func TestServer_BindError(t *testing.T) {
	first, err := Start("127.0.0.1:0", http.NotFoundHandler(), setupTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	_, err = Start(first.Addr(), http.NotFoundHandler(), setupTestLogger())
	assert.ErrorContains(t, err, "failed to listen")
}
