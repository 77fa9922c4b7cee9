// Package app wires the podium binaries: config, logging, storage, HTTP routes,
// the realtime relay and the terminal client.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"podium/cmd/internal/api"
	"podium/cmd/internal/backend"
	"podium/cmd/internal/realtime"
	"podium/cmd/security/password"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App is the podiumd runtime.
type App struct {
	cfg Config
	log Logger

	storage storage
	reg     *prometheus.Registry
	svc     *backend.Service
	api     *api.Handler
	ws      *realtime.WSGateway
}

// New builds a fully wired App. The caller must Close it.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	st, err := openStorage(ctx, cfg, pw, log)
	if err != nil {
		return nil, err
	}

	svc, err := backend.NewService(st.store, log,
		backend.WithPasswords(pw),
		backend.WithLatency(cfg.Latency),
	)
	if err != nil {
		st.close()
		return nil, err
	}

	apiHandler, err := api.NewHandler(log, svc, hasher, api.Config{
		TokenTTL:    cfg.TokenTTL,
		LoginMax:    cfg.LoginMax,
		LoginWindow: cfg.LoginWindow,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		st.close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if cfg.MetricsEnable {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	ws, err := realtime.NewWSGateway(log, realtime.NewHub(log), svc, realtime.NewMetrics(reg))
	if err != nil {
		st.close()
		return nil, err
	}
	svc.OnDebateChange(ws.PublishDebate)

	return &App{
		cfg:     cfg,
		log:     log,
		storage: st,
		reg:     reg,
		svc:     svc,
		api:     apiHandler,
		ws:      ws,
	}, nil
}

// Handler returns the full HTTP surface: health checks, metrics, the relay and the REST API.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	if a.cfg.MetricsEnable {
		r.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	}
	r.Handle("/ws", a.ws)
	r.Mount("/", a.api.Routes())

	return WithRequestLogging(WithSecurityHeaders(r), a.log)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && !a.storage.dbEnabled() {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.storage.dbEnabled() {
		if err := pingDB(r.Context(), a.storage.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// Run serves until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.storage.dbEnabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases storage.
func (a *App) Close() { a.storage.close() }

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL onto ws(s). A bare host:port is treated as http.
func wsBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
