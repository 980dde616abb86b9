package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// --- Mocks ---

type mockPresenceCache struct {
	mock.Mock
}

func (m *mockPresenceCache) Set(ctx context.Context, connectionID string, info emergency.ConnectionInfo) error {
	return m.Called(ctx, connectionID, info).Error(0)
}
func (m *mockPresenceCache) Delete(ctx context.Context, connectionID string) error {
	return m.Called(ctx, connectionID).Error(0)
}
func (m *mockPresenceCache) Fetch(ctx context.Context, connectionID string) (emergency.ConnectionInfo, error) {
	args := m.Called(ctx, connectionID)
	return args.Get(0).(emergency.ConnectionInfo), args.Error(1)
}
func (m *mockPresenceCache) Close() error {
	return m.Called().Error(0)
}

// testFixture holds all the components for a test.
type testFixture struct {
	cm            *ConnectionManager
	registry      *Registry
	router        *Router
	presenceCache *mockPresenceCache
	wsServer      *httptest.Server
}

// setup creates a test fixture for the ConnectionManager.
func setup(t *testing.T) *testFixture {
	t.Helper()
	logger := zerolog.Nop()
	metrics := observability.NewMetrics()

	presenceCache := new(mockPresenceCache)
	registry := NewRegistry(logger, metrics)
	router := NewRouter(registry, logger, metrics)

	identity := emergency.Identity{UserID: "test-user-id", Region: "pune"}
	cm, err := NewConnectionManager(
		"0",
		middleware.NoopAuth(identity),
		registry,
		presenceCache,
		logger,
	)
	require.NoError(t, err, "NewConnectionManager failed")

	wsServer := httptest.NewServer(cm.Handler())
	t.Cleanup(wsServer.Close)

	return &testFixture{
		cm:            cm,
		registry:      registry,
		router:        router,
		presenceCache: presenceCache,
		wsServer:      wsServer,
	}
}

// connectClient connects a new websocket client and waits for it to be registered.
func (fx *testFixture) connectClient(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(fx.wsServer.URL, "http") + "/connect"

	fx.presenceCache.On("Set", mock.Anything, mock.AnythingOfType("string"),
		mock.AnythingOfType("emergency.ConnectionInfo")).Return(nil)

	wsClientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Failed to dial test WebSocket server")
	t.Cleanup(func() { _ = wsClientConn.Close() })

	require.Eventually(t, func() bool {
		return fx.registry.Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "Connection was not registered")

	return wsClientConn
}

// joinRoom sends a joinRoom frame and waits for the membership to appear.
func (fx *testFixture) joinRoom(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	frame, err := emergency.NewFrame(emergency.MsgJoinRoom, room)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))

	require.Eventually(t, func() bool {
		return len(fx.registry.membersOf(emergency.NormalizeRegion(room))) == 1
	}, 2*time.Second, 10*time.Millisecond, "Room membership was not recorded")
}

func TestConnectionManager_ConnectAndDisconnect(t *testing.T) {
	fx := setup(t)

	// --- 1. Test Connect ---
	wsClientConn := fx.connectClient(t)
	fx.presenceCache.AssertCalled(t, "Set", mock.Anything, mock.AnythingOfType("string"),
		mock.AnythingOfType("emergency.ConnectionInfo"))

	// --- 2. Test Disconnect ---
	fx.presenceCache.On("Delete", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()

	// Close the client connection to trigger the server's read loop exit.
	require.NoError(t, wsClientConn.Close())

	require.Eventually(t, func() bool {
		return fx.registry.Len() == 0
	}, 5*time.Second, 10*time.Millisecond, "Connection was not unregistered after disconnect")

	fx.presenceCache.AssertCalled(t, "Delete", mock.Anything, mock.AnythingOfType("string"))
}

func TestConnectionManager_JoinRoomAndReceiveEmit(t *testing.T) {
	fx := setup(t)
	wsClientConn := fx.connectClient(t)

	fx.joinRoom(t, wsClientConn, "Pune")

	alert := &emergency.Alert{ID: "alert-1", Title: "Flood warning", TargetRegions: []string{"pune"}}
	fx.router.EmitToRoom("pune", emergency.MsgNewAlertInRegion, alert)

	require.NoError(t, wsClientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame emergency.Frame
	require.NoError(t, wsClientConn.ReadJSON(&frame))
	assert.Equal(t, emergency.MsgNewAlertInRegion, frame.Event)

	var received emergency.Alert
	require.NoError(t, json.Unmarshal(frame.Data, &received))
	assert.Equal(t, "alert-1", received.ID)
}

func TestConnectionManager_UnknownClientEventIsIgnored(t *testing.T) {
	fx := setup(t)
	wsClientConn := fx.connectClient(t)

	frame, err := emergency.NewFrame("not_a_real_event", "whatever")
	require.NoError(t, err)
	require.NoError(t, wsClientConn.WriteJSON(frame))

	// The connection must survive the unknown event.
	fx.joinRoom(t, wsClientConn, "pune")
	assert.Equal(t, 1, fx.registry.Len())
}
