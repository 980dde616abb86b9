// Package guardiangrid wires the record mutation API into an HTTP service.
package guardiangrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/guardiangrid/config"
	"github.com/ruchik19/GuardianGrid/internal/api"
	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// Wrapper runs the record mutation API and its metrics/health endpoints.
type Wrapper struct {
	server     *http.Server
	apiHandler *api.API
	logger     zerolog.Logger
}

// New creates and wires up the API service.
func New(
	cfg *config.AppConfig,
	dependencies *emergency.Dependencies,
	metrics *observability.Metrics,
	authMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if dependencies == nil || dependencies.Publisher == nil {
		return nil, fmt.Errorf("dependencies with a publisher are required")
	}

	apiHandler := api.NewAPI(dependencies, logger)

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/alerts", authMiddleware(http.HandlerFunc(apiHandler.CreateAlertHandler)))
	mux.Handle("GET /api/alerts/{region}", authMiddleware(http.HandlerFunc(apiHandler.ListAlertsHandler)))
	mux.Handle("POST /api/alerts/{id}/deactivate", authMiddleware(http.HandlerFunc(apiHandler.DeactivateAlertHandler)))
	mux.Handle("DELETE /api/alerts/{id}", authMiddleware(http.HandlerFunc(apiHandler.DeleteAlertHandler)))

	mux.Handle("POST /api/shelters", authMiddleware(http.HandlerFunc(apiHandler.UpsertShelterHandler)))
	mux.Handle("GET /api/shelters/{region}", authMiddleware(http.HandlerFunc(apiHandler.ListSheltersHandler)))
	mux.Handle("DELETE /api/shelters/{id}", authMiddleware(http.HandlerFunc(apiHandler.DeleteShelterHandler)))

	mux.Handle("POST /api/contacts", authMiddleware(http.HandlerFunc(apiHandler.UpsertContactHandler)))
	mux.Handle("GET /api/contacts/{region}", authMiddleware(http.HandlerFunc(apiHandler.ListContactsHandler)))
	mux.Handle("DELETE /api/contacts/{id}", authMiddleware(http.HandlerFunc(apiHandler.DeleteContactHandler)))

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Wrapper{
		server: &http.Server{
			Addr:    ":" + cfg.APIPort,
			Handler: mux,
		},
		apiHandler: apiHandler,
		logger:     logger.With().Str("component", "APIService").Logger(),
	}, nil
}

// Handler exposes the service mux, for tests that run against httptest.
func (w *Wrapper) Handler() http.Handler {
	return w.server.Handler
}

// Start runs the API HTTP server.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info().Str("addr", w.server.Addr).Msg("API server starting...")
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the service, waiting for background API tasks.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API service...")
	var finalErr error

	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("API server shutdown failed.")
		finalErr = err
	}

	w.apiHandler.Wait()

	w.logger.Info().Msg("API service shut down.")
	return finalErr
}
