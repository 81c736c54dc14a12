package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/firsec/fir/internal/domain"
)

// Client represents one connected SSE subscriber.
type Client struct {
	username     string
	confidential bool
	send         chan []byte
}

// Hub manages the active incident stream subscribers. Single-instance
// model: all broadcast is in-process.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an SSE Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Register adds a subscriber. confidential controls whether the client
// receives confidential incidents.
func (h *Hub) Register(username string, confidential bool, send chan []byte) *Client {
	c := &Client{username: username, confidential: confidential, send: send}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log.Debug().Str("user", username).Msg("SSE client connected")
	return c
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	log.Debug().Str("user", c.username).Msg("SSE client disconnected")
}

// Broadcast pushes an incident to every subscriber allowed to see it.
// This satisfies the application.IncidentHub interface.
func (h *Hub) Broadcast(inc *domain.Incident) {
	msg := buildSSEMessage(inc)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if inc.Confidential && !c.confidential {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Client is slow or gone, skip.
			log.Warn().Str("user", c.username).Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the number of connected subscribers.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// buildSSEMessage formats an incident as an SSE data frame.
func buildSSEMessage(inc *domain.Incident) []byte {
	b, _ := json.Marshal(inc)
	return []byte("event: incident\ndata: " + string(b) + "\n\n")
}
