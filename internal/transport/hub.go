package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"connectline/internal/auth"
	"connectline/internal/matchmaking"
	"connectline/internal/middleware"
	"connectline/internal/models"
	"connectline/internal/session"
	"connectline/internal/validation"
)

// inboundFrame is the envelope every client message must match.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinQueuePayload struct {
	Difficulty string `json:"difficulty"`
}

type playerReadyPayload struct {
	SessionID string `json:"sessionId"`
}

type submitPathPayload struct {
	SessionID string   `json:"sessionId"`
	Path      []string `json:"path"`
}

type giveUpPayload struct {
	SessionID string `json:"sessionId"`
}

// Hub owns every live connection, maps channels to sessions, and bridges
// inbound frames to the Matchmaker and Session Engine (C4/C5).
type Hub struct {
	auth        *auth.Service
	queue       *matchmaking.Queue
	engine      *session.Engine
	rateLimiter *middleware.RateLimiter
	upgrader    websocket.Upgrader

	mu              sync.RWMutex
	clients         map[string]*Client
	channelSessions map[string]string // channelID -> sessionID
}

// NewHub wires the transport adapter to its C4/C5 collaborators.
func NewHub(authSvc *auth.Service, queue *matchmaking.Queue, engine *session.Engine, rateLimiter *middleware.RateLimiter, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	h := &Hub{
		auth:        authSvc,
		queue:       queue,
		engine:      engine,
		rateLimiter: rateLimiter,
		clients:     make(map[string]*Client),
		channelSessions: make(map[string]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				return allowed[origin]
			},
		},
	}
	engine.SetEmitter(h)
	return h
}

// RegisterRoutes mounts /ws and /healthz on the given router, matching
// the teacher's gin wiring shape.
func (h *Hub) RegisterRoutes(r *gin.Engine, healthy func() bool) {
	r.GET("/ws", h.handleWebSocket)
	r.GET("/healthz", func(c *gin.Context) {
		if !healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "warming"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "activeSessions": h.engine.ActiveCount()})
	})
}

func (h *Hub) handleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if authz := c.GetHeader("Authorization"); len(authz) > 7 && authz[:7] == "Bearer " {
			token = authz[7:]
		}
	}
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.ValidateToken(token)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[TRANSPORT] upgrade failed: %v", err)
		return
	}

	client := &Client{
		ChannelID: uuid.New().String(),
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		hub:       h,
	}

	h.mu.Lock()
	h.clients[client.ChannelID] = client
	h.mu.Unlock()

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	sessionID, hadSession := h.channelSessions[c.ChannelID]
	delete(h.channelSessions, c.ChannelID)
	delete(h.clients, c.ChannelID)
	h.mu.Unlock()

	h.queue.Dequeue(c.ChannelID)
	h.rateLimiter.Forget(c.ChannelID)

	if hadSession {
		if s, ok := h.engine.Get(sessionID); ok {
			s.Disconnect(c.ChannelID)
		}
	}
	close(c.Send)
}

func (h *Hub) bindSession(channelID, sessionID string) {
	h.mu.Lock()
	h.channelSessions[channelID] = sessionID
	h.mu.Unlock()
}

// Emit implements session.Emitter. It is also the hook that forgets a
// channel's session binding once its terminal frame has been queued, so a
// channel is free to re-enter the queue with a clean slate.
func (h *Hub) Emit(channelID, frameType string, payload any) {
	h.mu.RLock()
	client, ok := h.clients[channelID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	body, err := json.Marshal(outboundFrame{Type: frameType, Payload: payload})
	if err != nil {
		log.Printf("[TRANSPORT] marshal %s for %s: %v", frameType, channelID, err)
		return
	}

	var delivered bool
	if frameType == session.FrameGameEnd {
		// Terminal frame: worth a short block rather than an outright drop,
		// since the client is about to lose this session for good.
		delivered = client.enqueueTerminal(body)
	} else {
		delivered = client.enqueue(body)
	}
	if !delivered {
		log.Printf("[TRANSPORT] dropped %s frame for %s: send buffer full", frameType, channelID)
	}

	if frameType == session.FrameGameEnd {
		h.mu.Lock()
		delete(h.channelSessions, channelID)
		h.mu.Unlock()
	}
}

func (h *Hub) dispatch(c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return // ClientProtocol: malformed event, ignored
	}

	switch frame.Type {
	case "joinQueue":
		h.handleJoinQueue(c, frame.Payload)
	case "leaveQueue":
		h.queue.Dequeue(c.ChannelID)
	case "startSinglePlayerGame":
		h.handleStartSingle(c, frame.Payload)
	case "playerReady":
		h.handlePlayerReady(c, frame.Payload)
	case "submitPath":
		h.handleSubmitPath(c, frame.Payload)
	case "giveUp":
		h.handleGiveUp(c, frame.Payload)
	default:
		// unknown event: ignored per §7 ClientProtocol policy.
	}
}

func (h *Hub) handleJoinQueue(c *Client, raw json.RawMessage) {
	var p joinQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if err := validation.ValidateDifficulty(p.Difficulty); err != nil {
		return
	}

	h.queue.Enqueue(c.ChannelID, c.UserID, models.Difficulty(p.Difficulty))
	h.tryMatchLoop()
}

// tryMatchLoop drains every currently-matchable pair. On endpoint
// exhaustion it requeues both entries and stops, per spec.md §4.4.
func (h *Hub) tryMatchLoop() {
	for {
		match, ok := h.queue.TryMatch()
		if !ok {
			return
		}
		s, err := h.engine.CreateMultiplayer(context.Background(), match)
		if err != nil {
			log.Printf("[TRANSPORT] no endpoints for match, requeueing: %v", err)
			h.queue.Requeue(match.A)
			h.queue.Requeue(match.B)
			return
		}
		h.bindSession(match.A.ChannelID, s.ID)
		h.bindSession(match.B.ChannelID, s.ID)
	}
}

func (h *Hub) handleStartSingle(c *Client, raw json.RawMessage) {
	var p joinQueuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if err := validation.ValidateDifficulty(p.Difficulty); err != nil {
		return
	}

	s, err := h.engine.CreateSingle(context.Background(), c.ChannelID, c.UserID, models.Difficulty(p.Difficulty))
	if err != nil {
		log.Printf("[TRANSPORT] failed to start single-player session: %v", err)
		return
	}
	h.bindSession(c.ChannelID, s.ID)
}

func (h *Hub) resolveSession(c *Client, sessionID string) (*session.Session, bool) {
	h.mu.RLock()
	bound, ok := h.channelSessions[c.ChannelID]
	h.mu.RUnlock()
	if !ok || bound != sessionID {
		return nil, false // wrong session for this channel: Rejected, ignored
	}
	return h.engine.Get(sessionID)
}

func (h *Hub) handlePlayerReady(c *Client, raw json.RawMessage) {
	var p playerReadyPayload
	if err := json.Unmarshal(raw, &p); err != nil || validation.ValidateUUID(p.SessionID) != nil {
		return
	}
	if s, ok := h.resolveSession(c, p.SessionID); ok {
		s.Ready(c.ChannelID)
	}
}

func (h *Hub) handleSubmitPath(c *Client, raw json.RawMessage) {
	var p submitPathPayload
	if err := json.Unmarshal(raw, &p); err != nil || validation.ValidateUUID(p.SessionID) != nil {
		return
	}
	if err := validation.ValidatePathShape(p.Path); err != nil {
		return
	}
	if s, ok := h.resolveSession(c, p.SessionID); ok {
		s.SubmitPath(c.ChannelID, p.Path)
	}
}

func (h *Hub) handleGiveUp(c *Client, raw json.RawMessage) {
	var p giveUpPayload
	if err := json.Unmarshal(raw, &p); err != nil || validation.ValidateUUID(p.SessionID) != nil {
		return
	}
	if s, ok := h.resolveSession(c, p.SessionID); ok {
		s.GiveUp(c.ChannelID)
	}
}

// Shutdown terminates every active session and queued entry: each session
// participant gets a gameEnd frame and each queued channel a queueLeft
// frame, handed to its writer goroutine. It does not close any connection;
// queued frames keep being written until the connection or the process
// goes away.
func (h *Hub) Shutdown() {
	queued := h.queue.Entries()
	h.engine.Shutdown()

	for _, e := range queued {
		h.queue.Dequeue(e.ChannelID)
		h.Emit(e.ChannelID, session.FrameQueueLeft, struct{}{})
	}
}

// SweepExpiredQueue drops matchmaking entries that have sat past the
// queue TTL and notifies their still-connected channels (SPEC_FULL.md
// §4's queue entry TTL sweep). Returns the number swept.
func (h *Hub) SweepExpiredQueue() int {
	expired := h.queue.SweepExpired()
	for _, e := range expired {
		h.Emit(e.ChannelID, session.FrameQueueExpired, struct{}{})
	}
	return len(expired)
}

// ReapIdleSessions force-finishes sessions stuck in waiting past maxAge
// (SPEC_FULL.md §4's idle-session reaper). Returns the number reaped.
func (h *Hub) ReapIdleSessions(maxAge time.Duration) int {
	return h.engine.ReapIdleWaiting(maxAge)
}
