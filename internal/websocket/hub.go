// Package websocket streams published state to connected websocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/nvandessel/dbmon/internal/models"
)

// ErrHubClosed is returned when publishing to a hub whose Run has returned.
var ErrHubClosed = errors.New("websocket hub closed")

// Message is the envelope every frame is wrapped in.
type Message struct {
	Type    string       `json:"type"`
	Payload models.State `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts snapshots to them.
// Run must be running for Publish and ServeWS to make progress.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	// last is replayed to clients as they connect. Owned by Run.
	last []byte

	mu       sync.RWMutex
	count    int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub creates a hub. A nil logger discards output.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Run services registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.logger.Debug("websocket client registered", "remote", client.conn.RemoteAddr().String())
			if h.last != nil {
				select {
				case client.send <- h.last:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("websocket client unregistered", "remote", client.conn.RemoteAddr().String())
			}

		case message := <-h.broadcast:
			h.last = message
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumers are dropped rather than stalling the loop.
					h.logger.Warn("websocket client send buffer full, removing", "remote", client.conn.RemoteAddr().String())
					h.drop(client)
				}
			}
		}
	}
}

// drop removes client and closes its send channel. Only called from Run.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish broadcasts state to every connected client.
func (h *Hub) Publish(ctx context.Context, state models.State) error {
	data, err := json.Marshal(Message{Type: "state", Payload: state})
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
