// ABOUTME: Websocket hub fanning appended messages out to connected operators.
// ABOUTME: Register/unregister/broadcast all flow through the run loop's channels.

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-desk/internal/msglog"
)

// broadcastBufferSize bounds the queue between message appends and the
// hub's fan-out loop. Publish never blocks on it; overflow drops the
// frame for live viewers, the log itself is unaffected.
const broadcastBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the JSON shape pushed to websocket clients.
type wsFrame struct {
	Type    string          `json:"type"`
	Message MessageResponse `json:"message"`
}

// Hub tracks connected operator websockets and pushes every appended
// message to all of them. Run must be started before clients connect.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a Hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws-hub"),
	}
}

// Run owns the client set. It exits when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("operator connected", "agent_id", client.agentID, "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("operator disconnected", "agent_id", client.agentID, "clients", len(h.clients))
			}
		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stop shuts the run loop down and drops all clients.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish queues an appended message for fan-out. It is registered as a
// message log delivery callback and runs under the conversation's append
// lock, so it must never block: a full queue drops the frame.
func (h *Hub) Publish(msg msglog.Message) {
	data, err := json.Marshal(wsFrame{Type: "message", Message: messageResponse(msg)})
	if err != nil {
		h.logger.Error("frame marshal failed", "message_id", msg.ID, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping frame", "message_id", msg.ID)
	}
}

// handleWebsocket upgrades GET /ws. The token rides the query string
// because browsers cannot set headers on websocket dials.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(g.hub, conn, identity.AgentID)
	g.hub.register <- client

	go client.writePump()
	go client.readPump()
}
