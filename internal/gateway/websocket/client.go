// Package websocket broadcasts internal/events lifecycle events to
// connected browser/CLI clients, grounded on the same hub/client
// split used for the HTTP gateway's request handling.
package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/riftborne/treequeue/internal/events"
	"github.com/riftborne/treequeue/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client is one connected WebSocket peer.
type Client struct {
	ID            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[events.Type]bool
	queueFilter   map[string]bool
	subMu         sync.RWMutex
}

// NewClient wraps conn under hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:            uuid.New().String()[:8],
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[events.Type]bool),
	}
}

// SubscribeAll makes the client receive every event type, which is
// also the default; messages the client sends never change it.
func (c *Client) SubscribeAll() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions = nil // nil/empty map means "everything", per IsSubscribed
}

// IsSubscribed reports whether t should be delivered to this client.
func (c *Client) IsSubscribed(t events.Type) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[t]
}

// FilterQueues restricts this client to events tagged with one of
// queueIDs in their queue_id data field — a gateway fronts several
// Pools at once (spec.md §3.2, SPEC_FULL.md's multi-Pool admin
// surface), and an operator watching one queue's dashboard shouldn't
// be flooded by every other queue's traffic. An empty queueIDs clears
// the filter back to "every queue".
func (c *Client) FilterQueues(queueIDs []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(queueIDs) == 0 {
		c.queueFilter = nil
		return
	}
	c.queueFilter = make(map[string]bool, len(queueIDs))
	for _, id := range queueIDs {
		c.queueFilter[id] = true
	}
}

// AcceptsQueue reports whether data's queue_id (if any) passes this
// client's queue filter.
func (c *Client) AcceptsQueue(data map[string]interface{}) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.queueFilter) == 0 {
		return true
	}
	queueID, _ := data["queue_id"].(string)
	return c.queueFilter[queueID]
}

// ReadPump drains client messages, logging each at debug level and
// otherwise discarding it, until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.ID).Msg("websocket read error")
			}
			return
		}
		logger.Debug().Str("client_id", c.ID).Str("message", string(message)).Msg("received client message")
	}
}

// WritePump pumps hub-broadcast messages (and pings) to the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
