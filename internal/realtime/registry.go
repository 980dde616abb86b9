// Package realtime provides components for managing real-time client
// connections: the connection registry, the room router, and the websocket
// connection manager.
package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// sendQueueSize bounds per-connection outbound buffering. A connection that
// falls this far behind starts losing frames rather than delaying the room;
// the client reconciles via resync.
const sendQueueSize = 64

// connection is the registry's handle for one live transport session. Frames
// are enqueued on send and written by the connection manager's write pump;
// done is closed exactly once, on unregister.
type connection struct {
	id    string
	send  chan []byte
	done  chan struct{}
	rooms map[string]struct{}
}

// enqueue offers a frame to the connection without ever blocking the caller.
// Returns false if the connection is gone or its queue is full.
func (c *connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Registry is the authoritative bookkeeping of which connections exist and
// which rooms each belongs to. Memberships are discarded on unregister, never
// persisted; a reconnecting client re-derives and re-joins its rooms.
//
// The mutex guards only individual register/join/unregister/lookup
// operations. Emits happen on snapshots taken under the lock, so a slow
// connection never delays unrelated rooms.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]*connection
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]*connection),
		logger:  logger.With().Str("component", "Registry").Logger(),
		metrics: metrics,
	}
}

// register creates an entry with an empty room set and returns its handle.
// Idempotent: a second call for a live id returns the existing entry.
func (r *Registry) register(connectionID string) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[connectionID]; ok {
		return existing
	}
	c := &connection{
		id:    connectionID,
		send:  make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
	r.conns[connectionID] = c
	r.metrics.ActiveConnections.Inc()
	return c
}

// Join adds the normalized room key to the connection's set. Joining twice is
// a no-op, as is joining on an unknown id (the connection may already have
// raced a disconnect). An unnormalizable key is dropped with a warning.
func (r *Registry) Join(connectionID, roomKey string) {
	room := emergency.NormalizeRegion(roomKey)
	if room == "" {
		r.logger.Warn().Str("connection", connectionID).Msg("Ignoring join for empty room key.")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		r.logger.Debug().Str("connection", connectionID).Str("room", room).
			Msg("Join for unknown connection, ignoring.")
		return
	}
	if _, joined := c.rooms[room]; joined {
		return
	}
	c.rooms[room] = struct{}{}
	r.metrics.RoomJoins.Inc()
	r.logger.Info().Str("connection", connectionID).Str("room", room).Msg("Connection joined room.")
}

// Unregister removes the connection and all its room memberships. Safe to
// call for an unknown id; in-flight emits racing the disconnect are absorbed
// by the connection's done channel.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	close(c.done)
	r.metrics.ActiveConnections.Dec()
	r.logger.Info().Str("connection", connectionID).Msg("Connection unregistered.")
}

// membersOf snapshots the connections currently joined to a normalized room
// key. The caller delivers outside the lock.
func (r *Registry) membersOf(room string) []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var members []*connection
	for _, c := range r.conns {
		if _, ok := c.rooms[room]; ok {
			members = append(members, c)
		}
	}
	return members
}

// all snapshots every live connection.
func (r *Registry) all() []*connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
