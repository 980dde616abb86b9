// Production entrypoint. Wires Firestore record stores, the Redis presence
// cache, Twilio SMS escalation, and JWT authentication.
package main

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruchik19/GuardianGrid/cmd"
	"github.com/ruchik19/GuardianGrid/guardiangrid"
	"github.com/ruchik19/GuardianGrid/guardiangrid/config"
	"github.com/ruchik19/GuardianGrid/internal/app"
	"github.com/ruchik19/GuardianGrid/internal/fanout"
	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/internal/platform/notify"
	"github.com/ruchik19/GuardianGrid/internal/platform/persistence"
	"github.com/ruchik19/GuardianGrid/internal/platform/presence"
	"github.com/ruchik19/GuardianGrid/internal/realtime"
	"github.com/ruchik19/GuardianGrid/internal/test/fakes"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "guardiangrid").Logger()

	// 2. Load config.yaml with environment overrides
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Create Authentication Middleware
	authMiddleware, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize authentication middleware")
	}

	// 5. Wire the realtime fanout path
	metrics := observability.NewMetrics()
	registry := realtime.NewRegistry(logger, metrics)
	router := realtime.NewRouter(registry, logger, metrics)
	deps.Publisher = fanout.NewPublisher(router, logger, metrics)

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

// newAuthMiddleware creates the JWT-validating middleware.
func newAuthMiddleware(cfg *config.AppConfig, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required in prod mode")
	}
	return middleware.JWTAuth([]byte(cfg.JWTSecret), logger), nil
}

// newDependencies builds the service dependency container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*emergency.Dependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(ctx, cfg, logger)
	}
	return newProdDependencies(ctx, cfg, logger)
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*emergency.Dependencies, error) {
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}

	alerts, shelters, contacts, err := persistence.NewFirestoreStores(fsClient, persistence.Collections{
		Alerts:   cfg.Firestore.AlertsCollection,
		Shelters: cfg.Firestore.SheltersCollection,
		Contacts: cfg.Firestore.ContactsCollection,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore stores: %w", err)
	}

	presenceCache, err := newPresenceCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sms, err := newSMSNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &emergency.Dependencies{
		Alerts:   alerts,
		Shelters: shelters,
		Contacts: contacts,
		Presence: presenceCache,
		SMS:      sms,
	}, nil
}

// newPresenceCache creates the pluggable PresenceCache based on config.
func newPresenceCache(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (emergency.PresenceCache, error) {
	cacheType := cfg.Presence.Type
	logger.Info().Str("type", cacheType).Msg("Initializing presence cache...")

	switch cacheType {
	case "redis":
		redisAddr := cfg.Presence.Redis.Addr
		if redisAddr == "" {
			return nil, fmt.Errorf("presence type is redis but no address is configured")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})
		// Test the connection
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisAddr, err)
		}
		logger.Info().Str("addr", redisAddr).Msg("Connected to Redis presence cache")
		return presence.NewRedisPresenceCache(rdb, logger)

	case "memory":
		return fakes.NewPresenceCache(), nil

	default:
		return nil, fmt.Errorf("invalid presence type: %s (must be 'redis' or 'memory')", cacheType)
	}
}

// newSMSNotifier creates the Twilio escalation client, or a no-op recorder
// when SMS is disabled.
func newSMSNotifier(cfg *config.AppConfig, logger zerolog.Logger) (emergency.SMSNotifier, error) {
	if !cfg.SMSEnabled {
		logger.Warn().Msg("SMS escalation is disabled.")
		return fakes.NewSMSNotifier(), nil
	}
	return notify.NewTwilioNotifier(cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFromNumber, cfg.SMSTimeout, logger)
}
