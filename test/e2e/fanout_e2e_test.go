package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchik19/GuardianGrid/guardiangrid"
	"github.com/ruchik19/GuardianGrid/guardiangrid/config"
	"github.com/ruchik19/GuardianGrid/internal/client"
	"github.com/ruchik19/GuardianGrid/internal/fanout"
	"github.com/ruchik19/GuardianGrid/internal/middleware"
	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/internal/realtime"
	"github.com/ruchik19/GuardianGrid/internal/test/fakes"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

var testSecret = []byte("e2e-secret")

func signedToken(t *testing.T, identity emergency.Identity) string {
	t.Helper()
	token, err := jwt.NewBuilder().
		Subject(identity.UserID).
		Claim("region", identity.Region).
		Claim("role", identity.Role).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, testSecret))
	require.NoError(t, err)
	return string(signed)
}

// stack is the full service wired against in-memory stores, served over
// httptest.
type stack struct {
	apiServer *httptest.Server
	wsServer  *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	metrics := observability.NewMetrics()

	deps := &emergency.Dependencies{
		Alerts:   fakes.NewAlertStore(logger),
		Shelters: fakes.NewShelterStore(),
		Contacts: fakes.NewContactStore(),
		Presence: fakes.NewPresenceCache(),
		SMS:      fakes.NewSMSNotifier(),
	}

	registry := realtime.NewRegistry(logger, metrics)
	router := realtime.NewRouter(registry, logger, metrics)
	deps.Publisher = fanout.NewPublisher(router, logger, metrics)

	authMiddleware := middleware.JWTAuth(testSecret, logger)

	cfg := &config.AppConfig{APIPort: "0", WebSocketPort: "0"}
	apiService, err := guardiangrid.New(cfg, deps, metrics, authMiddleware, logger)
	require.NoError(t, err)

	connManager, err := realtime.NewConnectionManager("0", authMiddleware, registry, deps.Presence, logger)
	require.NoError(t, err)

	apiServer := httptest.NewServer(apiService.Handler())
	t.Cleanup(apiServer.Close)
	wsServer := httptest.NewServer(connManager.Handler())
	t.Cleanup(wsServer.Close)

	return &stack{
		apiServer: apiServer,
		wsServer:  wsServer,
	}
}

// subscribe connects a subscriber for the identity, authenticating via the
// token query parameter, and waits for the subscription to settle.
func (s *stack) subscribe(t *testing.T, identity emergency.Identity) *client.Subscriber {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.wsServer.URL, "http") +
		"/connect?token=" + signedToken(t, identity)

	sub := client.NewSubscriber(wsURL, identity, zerolog.Nop(),
		client.WithReconnectDelay(10*time.Millisecond, 100*time.Millisecond))
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, sub.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return sub.State() == client.StateConnectedSubscribed
	}, 2*time.Second, 10*time.Millisecond)

	// Room joins are fire-and-forget; give the server a beat to process them
	// before any mutation fires.
	time.Sleep(100 * time.Millisecond)
	return sub
}

func (s *stack) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.apiServer.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestFanout_EndToEnd(t *testing.T) {
	stack := newStack(t)

	operator := emergency.Identity{UserID: "op-1", Region: "Pune", Role: emergency.RoleOperator}
	citizen := emergency.Identity{UserID: "cit-1", Region: "mumbai", Role: "citizen"}

	operatorSub := stack.subscribe(t, operator)
	citizenSub := stack.subscribe(t, citizen)

	operatorAlerts := make(chan emergency.Alert, 4)
	operatorSub.On(emergency.MsgNewAlertInRegion, func(data json.RawMessage) {
		var alert emergency.Alert
		if err := json.Unmarshal(data, &alert); err == nil {
			operatorAlerts <- alert
		}
	})

	citizenAlerts := make(chan emergency.Alert, 4)
	citizenSub.On(emergency.MsgNewAlertInRegion, func(data json.RawMessage) {
		var alert emergency.Alert
		if err := json.Unmarshal(data, &alert); err == nil {
			citizenAlerts <- alert
		}
	})

	citizenFeed := make(chan emergency.FeedUpdate, 4)
	citizenSub.On(emergency.MsgAlertFeedUpdate, func(data json.RawMessage) {
		var update emergency.FeedUpdate
		if err := json.Unmarshal(data, &update); err == nil {
			citizenFeed <- update
		}
	})

	// An alert targeting pune must reach the operator's room but not the
	// mumbai citizen's; the citizen still sees the feed broadcast.
	resp := stack.post(t, "/api/alerts", signedToken(t, operator), map[string]any{
		"title":         "Flood warning",
		"message":       "Move to higher ground",
		"type":          "flood",
		"severity":      "high",
		"targetRegions": []string{"Pune"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created emergency.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	select {
	case alert := <-operatorAlerts:
		assert.Equal(t, created.ID, alert.ID)
		assert.Equal(t, []string{"pune"}, alert.TargetRegions)
	case <-time.After(2 * time.Second):
		t.Fatal("operator never received the room-targeted alert")
	}

	select {
	case update := <-citizenFeed:
		assert.Equal(t, "created", update.Action)
		assert.Equal(t, created.ID, update.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("citizen never received the feed broadcast")
	}

	select {
	case alert := <-citizenAlerts:
		t.Fatalf("citizen outside the target region received room alert %s", alert.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFanout_DeactivationReachesRoom(t *testing.T) {
	stack := newStack(t)

	operator := emergency.Identity{UserID: "op-1", Region: "pune", Role: emergency.RoleOperator}
	sub := stack.subscribe(t, operator)

	deactivations := make(chan emergency.Ref, 1)
	sub.On(emergency.MsgAlertDeactivatedInRegion, func(data json.RawMessage) {
		var ref emergency.Ref
		if err := json.Unmarshal(data, &ref); err == nil {
			deactivations <- ref
		}
	})

	token := signedToken(t, operator)
	resp := stack.post(t, "/api/alerts", token, map[string]any{
		"title":         "Fire",
		"message":       "Avoid the area",
		"type":          "fire",
		"severity":      "medium",
		"targetRegions": []string{"pune"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created emergency.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = stack.post(t, "/api/alerts/"+created.ID+"/deactivate", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ref := <-deactivations:
		assert.Equal(t, created.ID, ref.ID)
		assert.Equal(t, "pune", ref.Region)
	case <-time.After(2 * time.Second):
		t.Fatal("deactivation event never arrived")
	}
}

func TestFanout_ResyncAfterReconnect(t *testing.T) {
	stack := newStack(t)

	operator := emergency.Identity{UserID: "op-1", Region: "pune", Role: emergency.RoleOperator}
	token := signedToken(t, operator)

	// Seed an alert before the client ever connects; it must arrive via the
	// resync fetch, not an event.
	resp := stack.post(t, "/api/alerts", token, map[string]any{
		"title":         "Earthquake",
		"message":       "Aftershocks expected",
		"type":          "earthquake",
		"severity":      "high",
		"targetRegions": []string{"pune"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	feed := client.NewAlertFeed(operator.Region)
	resync := func(ctx context.Context) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, stack.apiServer.URL+"/api/alerts/pune", nil)
		if err != nil {
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer func() { _ = res.Body.Close() }()
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return
		}
		var alerts []*emergency.Alert
		if err := json.Unmarshal(raw, &alerts); err == nil {
			feed.Resync(alerts)
		}
	}

	wsURL := "ws" + strings.TrimPrefix(stack.wsServer.URL, "http") + "/connect?token=" + token
	sub := client.NewSubscriber(wsURL, operator, zerolog.Nop(), client.WithResync(resync))
	t.Cleanup(func() { _ = sub.Close() })
	require.NoError(t, sub.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(feed.Alerts()) == 1
	}, 2*time.Second, 10*time.Millisecond, "resync never populated the feed")
	assert.Equal(t, "Earthquake", feed.Alerts()[0].Title)
}
