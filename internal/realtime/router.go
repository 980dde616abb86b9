package realtime

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// Router delivers a frame to every live connection joined to a given room
// key, and supports a no-room broadcast to all connections. It implements
// emergency.RoomEmitter.
//
// Ordering: a single publisher goroutine enqueues frames in publish order and
// each connection's send queue is drained in FIFO order, so emits to the same
// connection are never reordered. No ordering is guaranteed across rooms.
type Router struct {
	registry *Registry
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, logger zerolog.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		registry: registry,
		logger:   logger.With().Str("component", "Router").Logger(),
		metrics:  metrics,
	}
}

// EmitToRoom delivers the named event to every connection joined to roomKey.
// A room with zero members is a silent no-op; absence of subscribers is not a
// failure.
func (r *Router) EmitToRoom(roomKey string, event string, payload any) {
	room := emergency.NormalizeRegion(roomKey)
	if room == "" {
		r.logger.Warn().Str("event", event).Msg("Dropping emit with empty room key.")
		return
	}

	frame, ok := r.encode(event, payload)
	if !ok {
		return
	}

	members := r.registry.membersOf(room)
	if len(members) == 0 {
		r.logger.Debug().Str("room", room).Str("event", event).Msg("No members in room, skipping emit.")
		return
	}

	r.metrics.RoomEmits.Inc()
	r.deliver(members, frame, event)
	r.logger.Debug().Str("room", room).Str("event", event).Int("members", len(members)).
		Msg("Emitted event to room.")
}

// BroadcastAll delivers the named event to every live connection regardless
// of room membership.
func (r *Router) BroadcastAll(event string, payload any) {
	frame, ok := r.encode(event, payload)
	if !ok {
		return
	}

	conns := r.registry.all()
	if len(conns) == 0 {
		return
	}

	r.metrics.Broadcasts.Inc()
	r.deliver(conns, frame, event)
}

// encode marshals the wire frame once so every recipient shares the bytes.
func (r *Router) encode(event string, payload any) ([]byte, bool) {
	frame, err := emergency.NewFrame(event, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("Failed to encode frame, dropping emit.")
		return nil, false
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("Failed to encode frame, dropping emit.")
		return nil, false
	}
	return raw, true
}

// deliver enqueues the frame on each connection independently. A saturated or
// closing connection loses the frame; it must never delay the others.
func (r *Router) deliver(conns []*connection, frame []byte, event string) {
	for _, c := range conns {
		if !c.enqueue(frame) {
			r.metrics.FramesDropped.Inc()
			r.logger.Warn().Str("connection", c.id).Str("event", event).
				Msg("Send queue full or connection closing, frame dropped.")
		}
	}
}
