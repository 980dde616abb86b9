package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// ConnectionManager manages all active WebSocket connections. It runs its own
// dedicated HTTP server for the upgrade endpoint, registers each session with
// the connection registry, and processes joinRoom requests from clients.
type ConnectionManager struct {
	server     *http.Server
	upgrader   websocket.Upgrader
	registry   *Registry
	presence   emergency.PresenceCache
	logger     zerolog.Logger
	instanceID string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
func NewConnectionManager(
	port string,
	authMiddleware func(http.Handler) http.Handler,
	registry *Registry,
	presence emergency.PresenceCache,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if presence == nil {
		return nil, fmt.Errorf("presence cache cannot be nil")
	}

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured CORS origins.
				return true
			},
		},
		registry:   registry,
		presence:   presence,
		logger:     cmLogger,
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", authMiddleware(http.HandlerFunc(cm.connectHandler)))
	cm.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return cm, nil
}

// Handler exposes the upgrade mux, for tests that run against httptest.
func (cm *ConnectionManager) Handler() http.Handler {
	return cm.server.Handler
}

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.logger.Info().Str("addr", cm.server.Addr).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		return err
	}
	cm.logger.Info().Msg("WebSocket service shut down.")
	return nil
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages the
// session's lifecycle: register, pump, read, unregister.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			cm.logger.Debug().Err(err).Msg("error closing connection")
		}
	}()

	connectionID := uuid.NewString()
	entry := cm.registry.register(connectionID)
	defer cm.remove(connectionID)

	info := emergency.ConnectionInfo{
		ConnectionID:     connectionID,
		ServerInstanceID: cm.instanceID,
		ConnectedAt:      time.Now().Unix(),
	}
	if err := cm.presence.Set(context.Background(), connectionID, info); err != nil {
		cm.logger.Error().Err(err).Str("connection", connectionID).
			Msg("Failed to set connection presence in cache.")
	}

	cm.logger.Info().Str("connection", connectionID).Str("user", identity.UserID).
		Msg("User connected via WebSocket.")

	go cm.writePump(conn, entry)
	cm.readLoop(conn, connectionID)
}

// remove unregisters a connection and deletes its presence entry. Runs
// exactly once per connection, on transport close.
func (cm *ConnectionManager) remove(connectionID string) {
	cm.registry.Unregister(connectionID)
	if err := cm.presence.Delete(context.Background(), connectionID); err != nil {
		cm.logger.Error().Err(err).Str("connection", connectionID).
			Msg("Failed to delete connection presence from cache.")
	}
	cm.logger.Info().Str("connection", connectionID).Msg("Client disconnected.")
}

// readLoop processes inbound frames until the client disconnects. The only
// message a client sends is joinRoom; anything else is ignored.
func (cm *ConnectionManager) readLoop(conn *websocket.Conn, connectionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame emergency.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			cm.logger.Warn().Err(err).Str("connection", connectionID).
				Msg("Discarding malformed frame from client.")
			continue
		}

		switch frame.Event {
		case emergency.MsgJoinRoom:
			var room string
			if err := json.Unmarshal(frame.Data, &room); err != nil {
				cm.logger.Warn().Err(err).Str("connection", connectionID).
					Msg("Discarding joinRoom with malformed payload.")
				continue
			}
			cm.registry.Join(connectionID, room)
		default:
			cm.logger.Debug().Str("connection", connectionID).Str("event", frame.Event).
				Msg("Ignoring unknown client event.")
		}
	}
}

// writePump drains the connection's send queue in FIFO order. Exits when the
// registry closes the connection's done channel or a write fails.
func (cm *ConnectionManager) writePump(conn *websocket.Conn, entry *connection) {
	for {
		select {
		case frame := <-entry.send:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				cm.logger.Debug().Err(err).Str("connection", entry.id).
					Msg("Write failed, closing connection.")
				_ = conn.Close()
				return
			}
		case <-entry.done:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
