// Package metrics serves the operational HTTP endpoint: Prometheus metrics
// and the aggregated health report.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flashgate/internal/core"
	"flashgate/internal/infrastructure/health"
	"flashgate/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /metrics and /healthz on one listener.
type Server struct {
	addr   string
	health *health.HealthManager
	logger core.ILogger
	srv    *http.Server
}

// NewServer builds the server. The health manager may be shared with other
// components; probes run on every /healthz request.
func NewServer(addr string, healthMgr *health.HealthManager, logger core.ILogger) *Server {
	s := &Server{
		addr:   addr,
		health: healthMgr,
		logger: logger.WithField("component", "metrics_server"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting operational HTTP server", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Operational HTTP server shutdown failed", "error", err)
	}
	return nil
}

type healthzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	OpenOrders int64             `json:"open_orders"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:     "ok",
		Components: s.health.GetStatus(),
		OpenOrders: telemetry.GetGlobalMetrics().GetOpenOrders(),
	}

	code := http.StatusOK
	for _, state := range resp.Components {
		if state != "ok" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}
