package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postpilot/internal/config"
	"postpilot/internal/scheduler"
	logx "postpilot/pkg/logx"
)

const defaultMetricsAddr = "127.0.0.1:9090"

// httpServer is the observability surface: Prometheus metrics, a health
// endpoint for probes, and a JSON status snapshot for operators.
type httpServer struct {
	srv   *http.Server
	sched *scheduler.Service
	log   logx.Logger
}

func newHTTPServer(cfg config.MetricsConfig, reg *prometheus.Registry, sched *scheduler.Service, log logx.Logger) *httpServer {
	if !cfg.Enabled {
		return nil
	}
	addr := cfg.Addr
	if addr == "" {
		addr = defaultMetricsAddr
	}

	h := &httpServer{sched: sched, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)

	h.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

func (h *httpServer) Start() error {
	go func() {
		h.log.Info("http listening", logx.String("addr", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error("http server failed", logx.Err(err))
		}
	}()
	return nil
}

func (h *httpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.srv.Shutdown(ctx)
}

func (h *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.sched.HealthStatus()
	w.Header().Set("Content-Type", "application/json")
	if !health.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

func (h *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Queue    scheduler.QueueStatus `json:"queue"`
		Engine   scheduler.Snapshot    `json:"engine"`
		Metrics  any                   `json:"metrics"`
		FailedN  int                   `json:"failed_jobs"`
		Reported time.Time             `json:"reported_at"`
	}{
		Queue:    h.sched.QueueStatus(),
		Engine:   h.sched.Snapshot(),
		Metrics:  h.sched.JobMetrics(),
		FailedN:  len(h.sched.FailedJobs()),
		Reported: time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
