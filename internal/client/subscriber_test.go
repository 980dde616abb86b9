package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// fanoutServer is a minimal server-side counterpart for subscriber tests. It
// records joinRoom requests per connection and can push frames or drop the
// connection to simulate transport loss.
type fanoutServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions []*serverSession
}

type serverSession struct {
	conn *websocket.Conn

	mu    sync.Mutex
	joins []string
}

func (s *serverSession) joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joins...)
}

func newFanoutServer(t *testing.T) (*fanoutServer, string) {
	t.Helper()
	fs := &fanoutServer{}
	httpServer := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(httpServer.Close)
	return fs, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func (fs *fanoutServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := &serverSession{conn: conn}
	fs.mu.Lock()
	fs.sessions = append(fs.sessions, session)
	fs.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame emergency.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Event == emergency.MsgJoinRoom {
			var room string
			_ = json.Unmarshal(frame.Data, &room)
			session.mu.Lock()
			session.joins = append(session.joins, room)
			session.mu.Unlock()
		}
	}
}

// session waits for the n-th connection to arrive.
func (fs *fanoutServer) session(t *testing.T, n int) *serverSession {
	t.Helper()
	var session *serverSession
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if len(fs.sessions) < n {
			return false
		}
		session = fs.sessions[n-1]
		return true
	}, 2*time.Second, 10*time.Millisecond, "connection %d never arrived", n)
	return session
}

func (fs *fanoutServer) push(t *testing.T, session *serverSession, event string, payload any) {
	t.Helper()
	frame, err := emergency.NewFrame(event, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, session.conn.WriteMessage(websocket.TextMessage, raw))
}

func newTestSubscriber(url string, identity emergency.Identity, opts ...Option) *Subscriber {
	opts = append([]Option{WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond)}, opts...)
	return NewSubscriber(url+"/connect", identity, zerolog.Nop(), opts...)
}

func TestSubscriber_ConnectJoinsRequiredRooms(t *testing.T) {
	server, url := newFanoutServer(t)
	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "Pune"})
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, sub.Connect(context.Background()))
	assert.Equal(t, StateConnectedSubscribed, sub.State())

	session := server.session(t, 1)
	require.Eventually(t, func() bool {
		return len(session.joined()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"pune"}, session.joined(), "home region must be joined, normalized")
	assert.ElementsMatch(t, []string{"pune"}, sub.JoinedRooms())
}

func TestSubscriber_OperatorAlsoJoinsGlobal(t *testing.T) {
	server, url := newFanoutServer(t)
	identity := emergency.Identity{UserID: "op-1", Region: "pune", Role: emergency.RoleOperator}
	sub := newTestSubscriber(url, identity)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, sub.Connect(context.Background()))

	session := server.session(t, 1)
	require.Eventually(t, func() bool {
		return len(session.joined()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"pune", emergency.RoomGlobal}, session.joined())
}

func TestSubscriber_DispatchesRegisteredHandlers(t *testing.T) {
	server, url := newFanoutServer(t)
	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "pune"})
	t.Cleanup(func() { _ = sub.Close() })

	received := make(chan emergency.Alert, 1)
	sub.On(emergency.MsgNewAlertInRegion, func(data json.RawMessage) {
		var alert emergency.Alert
		if err := json.Unmarshal(data, &alert); err == nil {
			received <- alert
		}
	})

	require.NoError(t, sub.Connect(context.Background()))
	session := server.session(t, 1)

	server.push(t, session, emergency.MsgNewAlertInRegion,
		&emergency.Alert{ID: "a1", Title: "Flood warning", TargetRegions: []string{"pune"}})

	select {
	case alert := <-received:
		assert.Equal(t, "a1", alert.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestSubscriber_ReconnectResubscribesAndResyncs(t *testing.T) {
	server, url := newFanoutServer(t)

	var resyncs int32
	var resyncMu sync.Mutex
	countResync := func(ctx context.Context) {
		resyncMu.Lock()
		resyncs++
		resyncMu.Unlock()
	}
	resyncCount := func() int32 {
		resyncMu.Lock()
		defer resyncMu.Unlock()
		return resyncs
	}

	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "pune"}, WithResync(countResync))
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, sub.Connect(context.Background()))
	first := server.session(t, 1)
	require.Eventually(t, func() bool { return len(first.joined()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, resyncCount())

	// Drop the transport from the server side.
	require.NoError(t, first.conn.Close())

	// The subscriber must reconnect on its own and issue a full
	// re-subscription on the fresh connection.
	second := server.session(t, 2)
	require.Eventually(t, func() bool {
		return len(second.joined()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"pune"}, second.joined())

	require.Eventually(t, func() bool {
		return sub.State() == StateConnectedSubscribed
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, resyncCount(), "resync must run after every successful (re)connect")
}

func TestSubscriber_CloseIsTerminal(t *testing.T) {
	server, url := newFanoutServer(t)
	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "pune"})

	require.NoError(t, sub.Connect(context.Background()))
	server.session(t, 1)

	require.NoError(t, sub.Close())
	assert.Equal(t, StateClosed, sub.State())
	assert.Empty(t, sub.JoinedRooms())

	// No reconnect may follow a Close.
	time.Sleep(100 * time.Millisecond)
	server.mu.Lock()
	sessionCount := len(server.sessions)
	server.mu.Unlock()
	assert.Equal(t, 1, sessionCount)

	assert.Error(t, sub.Connect(context.Background()), "a closed subscriber must refuse to connect")
}

func TestSubscriber_CloseDuringDialRemainsClosed(t *testing.T) {
	server, url := newFanoutServer(t)

	// Gate the TCP dial so Close can land while the handshake is in flight.
	gate := make(chan struct{})
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "pune"}, WithDialer(dialer))

	connectErr := make(chan error, 1)
	go func() { connectErr <- sub.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return sub.State() == StateConnecting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Close())
	close(gate)

	select {
	case err := <-connectErr:
		assert.Error(t, err, "a connect racing a close must not succeed")
	case <-time.After(2 * time.Second):
		t.Fatal("connect never returned")
	}
	assert.Equal(t, StateClosed, sub.State(), "close is terminal even when a dial is in flight")
	assert.Empty(t, sub.JoinedRooms())

	// The dial may complete server-side, but the subscriber must tear the
	// connection down rather than subscribe on it.
	time.Sleep(100 * time.Millisecond)
	server.mu.Lock()
	for _, session := range server.sessions {
		assert.Empty(t, session.joined(), "no join may be recorded after close")
	}
	server.mu.Unlock()
}

func TestSubscriber_ConnectTwiceFails(t *testing.T) {
	_, url := newFanoutServer(t)
	sub := newTestSubscriber(url, emergency.Identity{UserID: "u1", Region: "pune"})
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, sub.Connect(context.Background()))
	assert.Error(t, sub.Connect(context.Background()))
}

func TestSubscriber_DialFailureLeavesDisconnected(t *testing.T) {
	sub := newTestSubscriber("ws://127.0.0.1:1/nowhere", emergency.Identity{UserID: "u1", Region: "pune"})
	t.Cleanup(func() { _ = sub.Close() })

	assert.Error(t, sub.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, sub.State())
}
