// Package observer is the optional read-only live dashboard: a local
// HTTP+WebSocket surface that streams orchestrator events and tails the
// execution log, off by default and never touching the supervision
// loop's control flow (only the owning orchestrator sends keys to its
// session).
package observer

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/logger"
)

// Message is one broadcast unit: an orchestrator event or an execution
// log line, tagged by phase so a dashboard watching several runs can
// filter client-side.
type Message struct {
	Type    string `json:"type"`
	Phase   string `json:"phase"`
	Payload string `json:"payload"`
}

// Hub fans broadcast messages out to every connected client. It owns no
// session state; it is pure read-side plumbing.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub returns a Hub ready to Run.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		logger:     log.WithFields(zap.String("component", "observer_hub")),
	}
}

// Run drives the hub's register/unregister/broadcast loop until ctx is
// canceled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("observer hub started")
	defer h.logger.Info("observer hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) broadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal observer message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// client buffer full: this message is skipped for that client
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Broadcast enqueues msg for every connected client without blocking: when
// the hub's own channel is full, msg is dropped and a warning is logged.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("observer hub broadcast buffer full, dropping message")
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
