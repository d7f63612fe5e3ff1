// Package router configures the HTTP routes snaprotate serves in schedule
// mode.
//
// Routes configured:
//   - GET /healthz - Health check (200 OK, or 503 when the check fails)
//   - GET /metrics - Prometheus metrics from the snaprotate registry
//   - GET /status  - JSON report of the last completed run (404 before one)
package router

import (
	"log/slog"
	"net/http"

	"github.com/HatiCode/snaprotate/pkg/httpx"
	"github.com/HatiCode/snaprotate/pkg/rotation"
)

// StatusSource returns the report of the last run, if any.
type StatusSource interface {
	LastReport() (rotation.Report, bool)
}

// SetupRoutes builds the daemon's handler. health may be nil.
func SetupRoutes(status StatusSource, metrics http.Handler, health func() error, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler(health))
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /status", handleStatus(status, logger))

	var handler http.Handler = mux
	handler = httpx.LoggingMiddleware(logger)(handler)
	handler = httpx.RecoveryMiddleware(logger)(handler)
	return handler
}

func handleStatus(status StatusSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := status.LastReport()
		if !ok {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no run has completed yet")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, report); err != nil {
			logger.Error("failed to write status response", "error", err)
		}
	}
}
