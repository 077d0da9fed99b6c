package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/arbruzaz/cog-worker/internal/config"
	core "github.com/arbruzaz/cog-worker/internal/ports"
	"github.com/arbruzaz/cog-worker/internal/worker"
)

// healthServer exposes /healthz, /ready and /live the same way the
// teacher's consumer did, backed by the worker's own loop heartbeat and
// Redis connectivity instead of MQTT.
type healthServer struct {
	cfg    config.HealthConfig
	worker *worker.Worker
	stream core.StreamClient
	logger core.Logger
	srv    *http.Server
}

func newHealthServer(cfg config.HealthConfig, w *worker.Worker, stream core.StreamClient, logr core.Logger) *healthServer {
	h := &healthServer{cfg: cfg, worker: w, stream: stream, logger: logr}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthHandler)
	mux.HandleFunc("/ready", h.readyHandler)
	mux.HandleFunc("/live", h.liveHandler)
	h.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return h
}

func (h *healthServer) start() {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("health server error", core.Field{Key: "error", Value: err})
		}
	}()
}

func (h *healthServer) shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// healthy reports whether Redis answers and the loop has run recently.
func (h *healthServer) healthy() (bool, string) {
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.stream.Ping(pingCtx); err != nil {
		return false, fmt.Sprintf("redis health check failed: %v", err)
	}

	last := h.worker.LastActivity()
	if last.IsZero() {
		return true, "worker has not completed its first loop iteration yet"
	}
	if time.Since(last) > h.cfg.MaxIdle {
		return false, fmt.Sprintf("worker loop idle for %s, exceeding max idle %s", time.Since(last), h.cfg.MaxIdle)
	}
	return true, "all components healthy"
}

func (h *healthServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	ok, msg := h.healthy()
	if ok {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","message":"%s"}`, msg)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"unhealthy","message":"%s"}`, msg)
}

func (h *healthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	h.healthHandler(w, r)
}

func (h *healthServer) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"alive"}`)
}
