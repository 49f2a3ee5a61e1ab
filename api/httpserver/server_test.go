package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

type flakyBackend struct {
	pingRoutes
	err error
}

func (b *flakyBackend) CheckHealth(ctx context.Context) error {
	return b.err
}

func newTestServer(t *testing.T, registrars ...RouteRegistrar) *BaseServer {
	if len(registrars) == 0 {
		registrars = []RouteRegistrar{pingRoutes{}}
	}
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		GracefulShutdownDuration: time.Second,
	}, registrars...)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return rr.Code, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	code, body := get(t, h, "/livez")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, h, "/drain")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"draining"}`, body)
	require.False(t, srv.IsReady())

	code, _ = get(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, h, "/drain")
	require.JSONEq(t, `{"status":"already draining"}`, body)

	_, body = get(t, h, "/undrain")
	require.JSONEq(t, `{"status":"ready"}`, body)
	require.True(t, srv.IsReady())

	_, body = get(t, h, "/undrain")
	require.JSONEq(t, `{"status":"already ready"}`, body)
}

func TestReadinessFollowsHealthChecks(t *testing.T) {
	backend := &flakyBackend{}
	h := newTestServer(t, backend).Handler()

	code, body := get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ready"}`, body)

	backend.err = errors.New("connection refused")
	code, body = get(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.JSONEq(t, `{"status":"unhealthy","error":"connection refused"}`, body)

	code, _ = get(t, h, "/ping")
	require.Equal(t, http.StatusOK, code, "routes keep serving while unhealthy")
	code, _ = get(t, h, "/livez")
	require.Equal(t, http.StatusOK, code)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.False(t, srv.IsReady())
}

func TestRunReportsListenError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               taken.Addr().String(),
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		GracefulShutdownDuration: time.Second,
	})
	require.NoError(t, err)
	require.Error(t, srv.Run(context.Background()))
}

func TestRegisteredRoutes(t *testing.T) {
	code, body := get(t, newTestServer(t).Handler(), "/ping")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pong", body)
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(&HTTPServerConfig{})
	require.Error(t, err)
}
