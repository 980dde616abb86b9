// Package fanout implements the event publisher: the central entry point
// domain mutations use to announce state changes to connected clients.
package fanout

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// Publisher resolves an event's target regions to rooms and emits to each,
// plus an unconditional lightweight feed broadcast. It implements
// emergency.EventPublisher.
//
// The emitter is an explicit constructor dependency rather than a process
// global. A Publisher built before the transport exists (nil emitter) drops
// events with a warning instead of crashing; real-time notification is a
// best-effort side channel, never a correctness-critical write path.
type Publisher struct {
	emitter emergency.RoomEmitter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates an event publisher over the given emitter. A nil
// emitter is tolerated: every publish becomes a logged no-op.
func NewPublisher(emitter emergency.RoomEmitter, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		emitter: emitter,
		logger:  logger.With().Str("component", "Publisher").Logger(),
		metrics: metrics,
	}
}

// Publish fans the event out: one room-targeted emit per normalized target
// region, then exactly one feed broadcast. Never returns an error; failures
// here must not roll back or block the mutation that triggered them.
func (p *Publisher) Publish(ctx context.Context, event emergency.Event) {
	log := p.logger.With().Str("kind", string(event.Kind)).Str("record", event.Ref.ID).Logger()

	if p.emitter == nil {
		log.Warn().Msg("No transport attached, dropping event.")
		return
	}

	roomMsg, ok := event.Kind.RoomMessage()
	if !ok {
		log.Warn().Msg("Unknown event kind, dropping event.")
		return
	}
	p.metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()

	// Room-targeted emits carry full detail for relevance filtering.
	payload := event.Payload
	if payload == nil {
		payload = event.Ref
	}
	for _, region := range p.normalizeRegions(event.Regions, log) {
		p.emitter.EmitToRoom(region, roomMsg, payload)
	}

	// The duplicate feed channel is intentional: any connected client, even
	// one outside every targeted room, learns that something changed.
	feedMsg, ok := event.Kind.FeedMessage()
	if !ok {
		return
	}
	p.emitter.BroadcastAll(feedMsg, emergency.FeedUpdate{
		Action: event.Kind.FeedAction(),
		ID:     event.Ref.ID,
		Region: event.Ref.Region,
	})
	log.Debug().Int("regions", len(event.Regions)).Msg("Event published.")
}

// normalizeRegions canonicalizes and de-duplicates the target-region list.
// Empty or unnormalizable entries are dropped with a warning, not treated as
// fatal. An empty result means only the feed broadcast fires.
func (p *Publisher) normalizeRegions(regions []string, log zerolog.Logger) []string {
	seen := make(map[string]struct{}, len(regions))
	normalized := make([]string, 0, len(regions))
	for _, r := range regions {
		region := emergency.NormalizeRegion(r)
		if region == "" {
			p.metrics.RegionsDropped.Inc()
			log.Warn().Str("region", r).Msg("Dropping empty target region from event.")
			continue
		}
		if _, dup := seen[region]; dup {
			continue
		}
		seen[region] = struct{}{}
		normalized = append(normalized, region)
	}
	return normalized
}
