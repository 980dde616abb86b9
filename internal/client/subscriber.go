package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// State is the subscriber's position in the connect/subscribe lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedUnsubscribed
	StateConnectedSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnsubscribed:
		return "connected-unsubscribed"
	case StateConnectedSubscribed:
		return "connected-subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	defaultReconnectBase = 500 * time.Millisecond
	defaultReconnectMax  = 30 * time.Second
)

// Handler consumes the payload of one named server event.
type Handler func(data json.RawMessage)

// Subscriber is the client-side state machine governing room membership and
// event dispatch across connect/reconnect cycles. Each instance owns all of
// its state; independent subscribers never share anything, so tests can run
// many in isolation.
//
// The required room set is re-derived from the identity on every reconnect.
// The server forgets memberships on disconnect, so the subscriber clears its
// own joined-room memory too and performs a full idempotent re-subscription.
type Subscriber struct {
	url      string
	identity emergency.Identity
	dialer   *websocket.Dialer
	clock    clockwork.Clock
	logger   zerolog.Logger

	reconnectBase time.Duration
	reconnectMax  time.Duration

	// onResync re-fetches authoritative state from persistence after each
	// (re)connect. Missed events are never replayed.
	onResync func(ctx context.Context)

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	joined   map[string]struct{}
	handlers map[string][]Handler
	closed   chan struct{}
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithClock substitutes the time source used for reconnect backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Subscriber) { s.clock = clock }
}

// WithDialer substitutes the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *Subscriber) { s.dialer = dialer }
}

// WithReconnectDelay overrides the bounded exponential backoff window.
func WithReconnectDelay(base, max time.Duration) Option {
	return func(s *Subscriber) {
		s.reconnectBase = base
		s.reconnectMax = max
	}
}

// WithResync sets the callback invoked after every successful (re)connect.
func WithResync(fn func(ctx context.Context)) Option {
	return func(s *Subscriber) { s.onResync = fn }
}

// NewSubscriber creates a subscriber for the given websocket URL and user
// identity.
func NewSubscriber(url string, identity emergency.Identity, logger zerolog.Logger, opts ...Option) *Subscriber {
	s := &Subscriber{
		url:           url,
		identity:      identity,
		dialer:        websocket.DefaultDialer,
		clock:         clockwork.NewRealClock(),
		logger:        logger.With().Str("component", "Subscriber").Str("user", identity.UserID).Logger(),
		reconnectBase: defaultReconnectBase,
		reconnectMax:  defaultReconnectMax,
		state:         StateDisconnected,
		joined:        make(map[string]struct{}),
		handlers:      make(map[string][]Handler),
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On registers a handler for a named server event. Register before Connect.
func (s *Subscriber) On(event string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// State reports the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JoinedRooms reports the rooms joined on the current connection.
func (s *Subscriber) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.joined))
	for room := range s.joined {
		rooms = append(rooms, room)
	}
	return rooms
}

// Connect performs the initial handshake, subscribes, and starts the read
// loop. The handshake is the only blocking step; join requests are
// fire-and-forget. On transport loss the subscriber reconnects on its own
// with bounded exponential backoff until Close is called.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return fmt.Errorf("subscriber is closed")
	case StateDisconnected:
	default:
		s.mu.Unlock()
		return fmt.Errorf("subscriber already connecting or connected")
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.mu.Lock()
		if s.state != StateClosed {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("websocket handshake failed: %w", err)
	}

	if !s.attach(conn) {
		return fmt.Errorf("subscriber is closed")
	}
	go s.readLoop(conn)
	s.resync()
	return nil
}

// Close tears down the transport and discards all local subscription state.
// Terminal: a closed subscriber never reconnects.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.joined = make(map[string]struct{})
	conn := s.conn
	s.conn = nil
	close(s.closed)
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// attach installs a fresh connection and re-subscribes from scratch:
// connected-unsubscribed on handshake, then connected-subscribed once every
// join request has been issued. Close may land while the dial or the join
// writes are in flight; attach re-checks for that under the lock and tears
// the connection down instead of resurrecting a closed subscriber. Returns
// false when the subscriber is closed. Join writes happen outside the lock
// so a slow server never blocks State, JoinedRooms, or dispatch.
func (s *Subscriber) attach(conn *websocket.Conn) bool {
	rooms := s.identity.RequiredRooms()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}
	s.conn = conn
	s.joined = make(map[string]struct{})
	s.state = StateConnectedUnsubscribed
	s.mu.Unlock()

	sent := make([]string, 0, len(rooms))
	for _, room := range rooms {
		frame, err := emergency.NewFrame(emergency.MsgJoinRoom, room)
		if err != nil {
			s.logger.Error().Err(err).Str("room", room).Msg("Failed to encode join request.")
			continue
		}
		raw, _ := json.Marshal(frame)
		// Fire-and-forget: membership failures self-heal on next reconnect.
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			s.logger.Warn().Err(err).Str("room", room).Msg("Failed to send join request.")
			continue
		}
		sent = append(sent, room)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}
	for _, room := range sent {
		s.joined[room] = struct{}{}
	}
	s.state = StateConnectedSubscribed
	s.mu.Unlock()

	s.logger.Info().Strs("rooms", rooms).Msg("Connected and subscribed.")
	return true
}

func (s *Subscriber) resync() {
	if s.onResync == nil {
		return
	}
	s.onResync(context.Background())
}

// readLoop dispatches inbound frames until the connection drops, then hands
// off to the reconnect loop unless the subscriber was closed.
func (s *Subscriber) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var frame emergency.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("Discarding malformed frame from server.")
			continue
		}
		s.dispatch(frame)
	}

	if !s.markDisconnected(conn) {
		return
	}
	s.reconnectLoop()
}

func (s *Subscriber) dispatch(frame emergency.Frame) {
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[frame.Event]...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(frame.Data)
	}
}

// markDisconnected records the transport loss and clears the joined-room
// memory, guaranteeing a full re-subscription next time. Returns false when
// the subscriber is closed and must not reconnect.
func (s *Subscriber) markDisconnected(conn *websocket.Conn) bool {
	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	if s.conn == conn {
		s.conn = nil
	}
	s.joined = make(map[string]struct{})
	s.state = StateDisconnected
	s.logger.Info().Msg("Transport disconnected.")
	return true
}

// reconnectLoop retries the handshake with bounded exponential backoff until
// it succeeds or the subscriber is closed.
func (s *Subscriber) reconnectLoop() {
	delay := s.reconnectBase
	for attempt := 1; ; attempt++ {
		select {
		case <-s.closed:
			return
		case <-s.clock.After(delay):
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect failed.")
			s.mu.Lock()
			if s.state == StateClosed {
				s.mu.Unlock()
				return
			}
			s.state = StateDisconnected
			s.mu.Unlock()

			delay *= 2
			if delay > s.reconnectMax {
				delay = s.reconnectMax
			}
			continue
		}

		if !s.attach(conn) {
			return
		}
		go s.readLoop(conn)
		s.resync()
		return
	}
}
