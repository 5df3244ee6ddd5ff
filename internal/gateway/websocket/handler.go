package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/riftborne/treequeue/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests into Hub-registered Clients.
type Handler struct {
	hub *Hub
}

// NewHandler wraps hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles GET /ws?queue=<queueID>&queue=<queueID>...: an
// omitted queue filter delivers every connected Pool's events.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	client.SubscribeAll()
	if queues := r.URL.Query()["queue"]; len(queues) > 0 {
		client.FilterQueues(queues)
	}
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().Str("client_id", client.ID).Str("remote_addr", r.RemoteAddr).Msg("websocket client connected")
}
