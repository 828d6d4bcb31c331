package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectline/internal/matchmaking"
	"connectline/internal/session"
)

// newTestHub builds a Hub with real queue/engine collaborators but no
// network-facing pieces (auth, rate limiter, upgrader), enough to test
// the sweep/reap-to-frame wiring without a live socket.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	queue := matchmaking.New(nil, time.Millisecond)
	engine := session.New(nil, nil, nil, nil, session.Config{})
	h := &Hub{
		queue:           queue,
		engine:          engine,
		clients:         make(map[string]*Client),
		channelSessions: make(map[string]string),
	}
	engine.SetEmitter(h)
	return h
}

func addFakeClient(h *Hub, channelID string) *Client {
	c := &Client{ChannelID: channelID, Send: make(chan []byte, sendBufferSize), hub: h}
	h.mu.Lock()
	h.clients[channelID] = c
	h.mu.Unlock()
	return c
}

func TestSweepExpiredQueue_NotifiesStillConnectedChannel(t *testing.T) {
	h := newTestHub(t)
	addFakeClient(h, "chan-1")
	h.queue.Enqueue("chan-1", "user-1", "easy")
	time.Sleep(5 * time.Millisecond)

	n := h.SweepExpiredQueue()
	require.Equal(t, 1, n)

	select {
	case body := <-h.clients["chan-1"].Send:
		assert.Contains(t, string(body), session.FrameQueueExpired)
	default:
		t.Fatal("expected a queueExpired frame to be queued")
	}
	assert.Equal(t, 0, h.queue.Len())
}

func TestSweepExpiredQueue_SkipsDisconnectedChannel(t *testing.T) {
	h := newTestHub(t)
	h.queue.Enqueue("chan-2", "user-2", "easy")
	time.Sleep(5 * time.Millisecond)

	n := h.SweepExpiredQueue()
	assert.Equal(t, 1, n, "still swept even though nothing is connected to notify")
}
