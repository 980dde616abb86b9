// Local entrypoint. Runs the full service against in-memory stores with
// authentication stubbed out, for development and demos.
package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruchik19/GuardianGrid/cmd"
	"github.com/ruchik19/GuardianGrid/guardiangrid"
	"github.com/ruchik19/GuardianGrid/internal/app"
	"github.com/ruchik19/GuardianGrid/internal/fanout"
	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/internal/realtime"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "guardiangrid").Logger()

	// 2. Load config.yaml
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.RunMode = "local"

	// 3. Create in-memory dependencies
	ctx := context.Background()
	deps, err := cmd.NewFakeDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Wire the realtime fanout path
	metrics := observability.NewMetrics()
	registry := realtime.NewRegistry(logger, metrics)
	router := realtime.NewRouter(registry, logger, metrics)
	deps.Publisher = fanout.NewPublisher(router, logger, metrics)

	// 5. Authentication is stubbed: every request acts as a local operator.
	authMiddleware := middleware.NoopAuth(emergency.Identity{
		UserID: "local-operator",
		Region: "pune",
		Role:   emergency.RoleOperator,
	})

	// 6. Create the two main services
	apiService, err := guardiangrid.New(
		cfg,
		deps,
		metrics,
		authMiddleware,
		logger.With().Str("component", "ApiService").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	connManager, err := realtime.NewConnectionManager(
		cfg.WebSocketPort,
		authMiddleware,
		registry,
		deps.Presence,
		logger.With().Str("component", "ConnManager").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Connection Manager")
	}

	// 7. Run the application
	app.Run(ctx, logger, apiService, connManager)
}
