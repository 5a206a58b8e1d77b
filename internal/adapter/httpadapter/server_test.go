package httpadapter_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couchcryptid/weather-imaging-service/internal/adapter/httpadapter"
	"github.com/stretchr/testify/assert"
)

type mockReadiness struct {
	err   error
	calls int
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error {
	m.calls++
	return m.err
}

func newTestServer(ready *mockReadiness) *httpadapter.Server {
	return httpadapter.NewServer(":0", ready, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(srv http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(&mockReadiness{}), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	ready := &mockReadiness{}
	rec := serve(newTestServer(ready), http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ready.calls)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(&mockReadiness{err: errors.New("object store unreachable")}), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(&mockReadiness{}), http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleMountsRoutes(t *testing.T) {
	srv := newTestServer(&mockReadiness{})
	srv.Handle("GET /status/{jobId}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.PathValue("jobId"))
	}))

	rec := serve(srv, http.MethodGet, "/status/job-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-1", rec.Body.String())

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz").Code)
}

func TestChecks(t *testing.T) {
	ok := &mockReadiness{}
	failing := &mockReadiness{err: errors.New("down")}
	never := &mockReadiness{}

	err := httpadapter.Checks{ok, failing, never}.CheckReadiness(context.Background())
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, ok.calls)
	assert.Zero(t, never.calls)

	assert.NoError(t, httpadapter.Checks{ok}.CheckReadiness(context.Background()))
}
