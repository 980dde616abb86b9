package cmd

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/guardiangrid/config"
	"github.com/ruchik19/GuardianGrid/internal/test/fakes"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// NewFakeDependencies creates in-memory fakes for local development. The
// publisher is left nil; the entrypoint wires the real fanout publisher in
// once the realtime router exists.
func NewFakeDependencies(_ context.Context, _ *config.AppConfig, logger zerolog.Logger) (*emergency.Dependencies, error) {
	logger.Warn().Msg("Running with in-memory stores. Nothing will be persisted.")

	return &emergency.Dependencies{
		Alerts:   fakes.NewAlertStore(logger),
		Shelters: fakes.NewShelterStore(),
		Contacts: fakes.NewContactStore(),
		Presence: fakes.NewPresenceCache(),
		SMS:      fakes.NewSMSNotifier(),
	}, nil
}
