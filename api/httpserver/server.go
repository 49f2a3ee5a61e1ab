package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

// DefaultHealthCheckTimeout bounds a single readiness check.
const DefaultHealthCheckTimeout = 2 * time.Second

// RouteRegistrar is implemented by components that serve endpoints.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HealthChecker is implemented by registrars that depend on a backend which
// can fail while the process keeps running, such as a package database.
// /readyz reports not ready while any check fails.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HTTPServerConfig configures a BaseServer.
type HTTPServerConfig struct {
	ListenAddr  string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown reports not ready before closing
	// the listener, so load balancers stop routing first.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	HealthCheckTimeout       time.Duration
}

// BaseServer serves the registered routes next to /livez, /readyz, /drain
// and /undrain.
type BaseServer struct {
	cfg      *HTTPServerConfig
	log      *slog.Logger
	draining atomic.Bool
	checks   []HealthChecker

	srv *http.Server
}

// New builds the router from the registrars. Registrars that also implement
// HealthChecker take part in readiness.
func New(cfg *HTTPServerConfig, registrars ...RouteRegistrar) (*BaseServer, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Log == nil {
		return nil, errors.New("server logger cannot be nil")
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}

	srv := &BaseServer{cfg: cfg, log: cfg.Log}
	for _, registrar := range registrars {
		if checker, ok := registrar.(HealthChecker); ok {
			srv.checks = append(srv.checks, checker)
		}
	}
	srv.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(registrars),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return srv, nil
}

func (srv *BaseServer) routes(registrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		for _, registrar := range registrars {
			registrar.RegisterRoutes(r)
		}
		r.Get("/livez", srv.handleLivez)
		r.Get("/readyz", srv.handleReadyz)
		r.Get("/drain", srv.handleDrain)
		r.Get("/undrain", srv.handleUndrain)
	})

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

// Handler returns the router, for use with httptest.
func (srv *BaseServer) Handler() http.Handler {
	return srv.srv.Handler
}

// IsReady reports whether the server has not been drained.
func (srv *BaseServer) IsReady() bool {
	return !srv.draining.Load()
}

func (srv *BaseServer) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, status string, err error) {
	resp := statusResponse{Status: status}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (srv *BaseServer) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive", nil)
}

func (srv *BaseServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	if err := srv.checkHealth(r.Context()); err != nil {
		srv.log.Warn("Readiness check failed", "err", err)
		writeStatus(w, http.StatusServiceUnavailable, "unhealthy", err)
		return
	}
	writeStatus(w, http.StatusOK, "ready", nil)
}

func (srv *BaseServer) checkHealth(ctx context.Context) error {
	for _, checker := range srv.checks {
		checkCtx, cancel := context.WithTimeout(ctx, srv.cfg.HealthCheckTimeout)
		err := checker.CheckHealth(checkCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (srv *BaseServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Swap(true) {
		writeStatus(w, http.StatusOK, "already draining", nil)
		return
	}
	srv.log.Info("Server marked as not ready")
	writeStatus(w, http.StatusOK, "draining", nil)
}

func (srv *BaseServer) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if !srv.draining.Swap(false) {
		writeStatus(w, http.StatusOK, "already ready", nil)
		return
	}
	srv.log.Info("Server marked as ready")
	writeStatus(w, http.StatusOK, "ready", nil)
}

// Run serves until ctx is done, then shuts down gracefully. It returns the
// listener error if serving fails first.
func (srv *BaseServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		errCh <- srv.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return srv.Shutdown()
	}
}

// Shutdown marks the server not ready, waits out the drain duration and
// stops accepting requests, waiting for in-flight ones.
func (srv *BaseServer) Shutdown() error {
	if !srv.draining.Swap(true) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	srv.log.Info("HTTP server gracefully stopped")
	return nil
}
