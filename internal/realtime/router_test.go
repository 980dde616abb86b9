package realtime

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchik19/GuardianGrid/internal/observability"
	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// drainFrames pulls every buffered frame off a connection's send queue.
func drainFrames(t *testing.T, c *connection) []emergency.Frame {
	t.Helper()
	var frames []emergency.Frame
	for {
		select {
		case raw := <-c.send:
			var frame emergency.Frame
			require.NoError(t, json.Unmarshal(raw, &frame))
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func newTestRouter() (*Router, *Registry) {
	reg := newTestRegistry()
	return NewRouter(reg, zerolog.Nop(), observability.NewMetrics()), reg
}

func TestRouter_EmitToRoom_OnlyMembersReceive(t *testing.T) {
	router, reg := newTestRouter()
	punePeer := reg.register("conn-pune")
	mumbaiPeer := reg.register("conn-mumbai")
	reg.Join("conn-pune", "pune")
	reg.Join("conn-mumbai", "mumbai")

	router.EmitToRoom("pune", emergency.MsgNewAlertInRegion, map[string]string{"id": "a1"})

	puneFrames := drainFrames(t, punePeer)
	require.Len(t, puneFrames, 1)
	assert.Equal(t, emergency.MsgNewAlertInRegion, puneFrames[0].Event)

	assert.Empty(t, drainFrames(t, mumbaiPeer), "non-member must not receive a room emit")
}

func TestRouter_EmitToRoom_NormalizesKey(t *testing.T) {
	router, reg := newTestRouter()
	peer := reg.register("conn-1")
	reg.Join("conn-1", "PUNE")

	router.EmitToRoom("  pune ", emergency.MsgNewAlertInRegion, nil)

	require.Len(t, drainFrames(t, peer), 1,
		"differently-cased spellings of the same region must land in the same room")
}

func TestRouter_EmitToRoom_EmptyRoomIsSilentNoOp(t *testing.T) {
	router, _ := newTestRouter()

	// Neither an empty key nor an empty membership may panic or error.
	router.EmitToRoom("", emergency.MsgNewAlertInRegion, nil)
	router.EmitToRoom("ghost-town", emergency.MsgNewAlertInRegion, nil)
}

func TestRouter_BroadcastAll_ReachesEveryConnection(t *testing.T) {
	router, reg := newTestRouter()
	joined := reg.register("conn-joined")
	loner := reg.register("conn-loner")
	reg.Join("conn-joined", "pune")

	router.BroadcastAll(emergency.MsgAlertFeedUpdate, emergency.FeedUpdate{Action: "created", ID: "a1"})

	for _, peer := range []*connection{joined, loner} {
		frames := drainFrames(t, peer)
		require.Len(t, frames, 1)
		assert.Equal(t, emergency.MsgAlertFeedUpdate, frames[0].Event)

		var update emergency.FeedUpdate
		require.NoError(t, json.Unmarshal(frames[0].Data, &update))
		assert.Equal(t, "created", update.Action)
		assert.Equal(t, "a1", update.ID)
	}
}

func TestRouter_SlowConnectionDoesNotBlockRoom(t *testing.T) {
	router, reg := newTestRouter()
	slow := reg.register("conn-slow")
	healthy := reg.register("conn-healthy")
	reg.Join("conn-slow", "pune")
	reg.Join("conn-healthy", "pune")

	// Saturate the slow connection's queue.
	for i := 0; i < sendQueueSize; i++ {
		require.True(t, slow.enqueue([]byte("{}")))
	}

	router.EmitToRoom("pune", emergency.MsgNewAlertInRegion, nil)

	frames := drainFrames(t, healthy)
	require.Len(t, frames, 1, "healthy member must receive the emit despite a saturated peer")
}

func TestRouter_FIFOOrderPerConnection(t *testing.T) {
	router, reg := newTestRouter()
	peer := reg.register("conn-1")
	reg.Join("conn-1", "pune")

	router.EmitToRoom("pune", emergency.MsgNewAlertInRegion, "first")
	router.EmitToRoom("pune", emergency.MsgAlertDeactivatedInRegion, "second")

	frames := drainFrames(t, peer)
	require.Len(t, frames, 2)
	assert.Equal(t, emergency.MsgNewAlertInRegion, frames[0].Event)
	assert.Equal(t, emergency.MsgAlertDeactivatedInRegion, frames[1].Event)
}
