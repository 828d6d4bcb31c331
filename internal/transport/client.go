// Package transport implements the Transport Adapter (C6): WebSocket
// connection lifecycle, inbound frame dispatch, and outbound frame
// delivery, grounded in the teacher's gorilla/websocket Client/ReadPump/
// WritePump shape.
package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256

	// terminalSendTimeout bounds how long a terminal frame (gameEnd) is
	// allowed to block waiting for buffer space, per spec.md §4.6's
	// flush-before-close guarantee: the connection is about to be torn
	// down, so this frame gets a short wait instead of the usual
	// drop-on-full treatment.
	terminalSendTimeout = 2 * time.Second
)

// Client is one authenticated WebSocket connection.
type Client struct {
	ChannelID string
	UserID    string
	Conn      *websocket.Conn
	Send      chan []byte

	hub *Hub
}

// ReadPump pumps inbound frames from the connection to the hub's
// dispatcher. Runs in its own goroutine per connection; exits (and closes
// the connection) on any read error, including a clean client close.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		if !c.hub.rateLimiter.Allow(c.ChannelID) {
			continue
		}
		c.hub.dispatch(c, message)
	}
}

// WritePump pumps frames queued on Send to the connection, and keeps the
// connection alive with periodic pings. Exits when Send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue pushes a frame onto Send without blocking; a full buffer means
// the client is too far behind and the frame is dropped rather than
// stalling the writer goroutine of every other session.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// enqueueTerminal pushes a frame onto Send, blocking briefly if the
// buffer is full instead of dropping immediately. Used only for the
// gameEnd frame, where a drop would mean the client never learns how
// its session ended.
func (c *Client) enqueueTerminal(frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	case <-time.After(terminalSendTimeout):
		return false
	}
}
