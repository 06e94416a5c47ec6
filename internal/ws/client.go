package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nightcourt/mafiad/internal/token"
	"github.com/nightcourt/mafiad/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameBytes  = 4096
	sendBufferSize = 64
)

// Frame budget per socket: sustained 10/s with bursts of 20.
const (
	frameRate  rate.Limit = 10
	frameBurst            = 20
)

// Client is one websocket connection. Identity fields are set exactly once
// by a successful handshake and read-only afterwards. connID distinguishes
// sockets that share a session during an eviction handoff.
type Client struct {
	h       *Handler
	conn    *websocket.Conn
	connID  string
	send    chan ServerFrame
	limiter *rate.Limiter
	log     *zap.Logger

	bound     bool
	roomID    string
	playerID  string
	sessionID string
	claims    token.Claims

	// evicted marks a socket replaced by a newer login for the same
	// session; its teardown must not flag the player disconnected.
	evicted atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Handler, conn *websocket.Conn) *Client {
	return &Client{
		h:       h,
		conn:    conn,
		connID:  types.NewID(),
		send:    make(chan ServerFrame, sendBufferSize),
		limiter: rate.NewLimiter(frameRate, frameBurst),
		log:     h.deps.Log,
		done:    make(chan struct{}),
	}
}

// enqueue drops the frame if the send buffer is full; the client will
// resync from the next room.snapshot.
func (c *Client) enqueue(f ServerFrame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		c.log.Warn("send buffer full, dropping frame",
			zap.String("event", f.Event), zap.String("player_id", c.playerID))
	}
}

func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.enqueue(errorFrame(rateLimited()))
			continue
		}
		c.h.handleFrame(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.bound {
			c.h.hub.unregister(c)
			if !c.evicted.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				c.h.deps.Registry.PlayerConnected(ctx, c.roomID, c.playerID, c.sessionID, false)
			}
		}
		_ = c.conn.Close()
		c.h.deps.Metrics.ConnectedClients.Dec()
	})
}
