package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/riftborne/treequeue/internal/events"
)

// WSClient is the WebSocket half of Client, connecting to the
// gateway's /ws endpoint and decoding the same events.Event frames the
// hub broadcasts.
type WSClient struct {
	baseURL string
	opts    *options

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	events    chan *events.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(baseURL string, opts *options) *WSClient {
	return &WSClient{
		baseURL: baseURL,
		opts:    opts,
		events:  make(chan *events.Event, 100),
		done:    make(chan struct{}),
	}
}

// Connect dials the gateway's WebSocket endpoint. Calling Connect on
// an already-connected client is a no-op.
func (ws *WSClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	header := make(map[string][]string)
	if ws.opts.apiKey != "" {
		header["X-API-Key"] = []string{ws.opts.apiKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: ws.opts.timeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("client: websocket dial failed: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	go ws.readLoop()
	return nil
}

func (ws *WSClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
		}

		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}

		event, err := events.FromJSON(message)
		if err != nil {
			continue
		}

		select {
		case ws.events <- event:
		case <-ws.done:
			return
		default:
			select {
			case <-ws.events:
			default:
			}
			ws.events <- event
		}
	}
}

// Events returns the channel events are delivered on. It closes when
// the connection drops or Close is called.
func (ws *WSClient) Events() <-chan *events.Event { return ws.events }

// IsConnected reports whether the WebSocket connection is live.
func (ws *WSClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}

// Close tears down the connection.
func (ws *WSClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			_ = ws.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = ws.conn.Close()
		}
	})
	return err
}
