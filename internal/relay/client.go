// Package relay implements the live socket channel. This file is the
// websocket-facing session: one Client per upgraded connection, with the
// usual paired pumps: a read loop feeding the hub and a buffered write loop
// owning all writes to the conn.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// readDeadline allows two or three missed 30s heartbeats before the
	// connection is considered dead.
	readDeadline = 90 * time.Second
	// writeTimeout keeps one stuck peer from blocking the write pump.
	writeTimeout = 10 * time.Second
	// pingInterval must be comfortably below readDeadline on the peer side.
	pingInterval = 30 * time.Second
	// readLimit caps a single inbound frame at 4KB.
	readLimit = int64(4 << 10)
	// sendBuffer is the per-connection outbound queue. A full buffer drops
	// the connection rather than blocking the hub.
	sendBuffer = 64
)

// Client adapts one websocket connection into a hub Session.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

// NewClient wraps an upgraded connection and attaches it to the hub. Call
// Run to start the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, log zerolog.Logger) *Client {
	c := &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		log:  log.With().Str("component", "relay").Logger(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	hub.Attach(c)
	return c
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Send queues an event for delivery. Never blocks: when the buffer is full
// the connection is dropped (the peer is too slow to be worth keeping; it
// will reconnect and catch up via the feed).
func (c *Client) Send(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("marshal outbound event")
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("marshal envelope")
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping connection")
		c.close()
	}
}

// Run drives both pumps and blocks until the connection ends. The caller's
// ctx bounds hub dispatch for inbound events.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// readPump consumes inbound frames and hands them to the hub. It owns
// detach-on-exit: when the read loop ends for any reason the session is
// removed and presence updated.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Detach(c)
		c.close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Str("conn_id", c.id).Msg("read failed")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.Send(EventError, ErrorPayload{Message: "malformed frame"})
			continue
		}
		c.hub.Dispatch(ctx, c, env)
	}
}

// writePump owns all writes to the conn: queued frames plus keepalive pings.
func (c *Client) writePump() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close releases the write pump and underlying conn exactly once.
func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}
