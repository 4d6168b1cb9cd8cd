// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - GET /forecast/current?series=<name> - Retrieve latest forecast snapshot
//   - GET /healthz - Liveness check (always 200 OK)
//   - GET /readyz - Readiness check (503 until the first snapshot is stored)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /forecast/current endpoint returns the stored snapshot as JSON: the
// forecast days, the in-sample history table, training losses and accuracy.
// Pass history=false to drop the history table. Snapshots older than the
// stale threshold carry an X-Moodcast-Stale header.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/moodcast/pkg/httpx"
	"github.com/HatiCode/moodcast/pkg/storage"
)

// StaleHeader is set on responses whose snapshot is older than the stale
// threshold.
const StaleHeader = "X-Moodcast-Stale"

var seriesNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// SetupRoutes configures HTTP endpoints for the forecaster. A nil ready
// check reports ready unconditionally.
func SetupRoutes(store storage.Store, staleAfter time.Duration, ready func() error, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = func() error { return nil }
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /readyz", httpx.HealthHandlerWithCheck(ready))
	mux.HandleFunc("GET /forecast/current", handleGetSnapshot(store, staleAfter, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// handleGetSnapshot returns a handler for GET /forecast/current?series=<name>.
func handleGetSnapshot(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		name := query.Get("series")
		if name == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "series parameter required")
			return
		}
		if !seriesNameRegex.MatchString(name) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid series name format")
			return
		}

		withHistory := true
		if raw := query.Get("history"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "history must be true or false")
				return
			}
			withHistory = v
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx, name)
		if err != nil {
			logger.Error("failed to get snapshot", "series", name, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for series %q", name))
			return
		}

		if staleAfter > 0 && time.Since(snapshot.GeneratedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}
		if !withHistory {
			snapshot.History = nil
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
