package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub maintains active WebSocket connections and fans messages out to them
type Hub struct {
	// Registered clients (userID -> connections; a user may have several devices)
	clients map[string]map[*Client]struct{}

	// Inbound messages addressed to one user
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	// closed when Run returns
	done chan struct{}

	logger *zap.Logger

	// Mutex for thread-safe client map access
	mu sync.RWMutex
}

// Message is a payload for every connection of one user
type Message struct {
	UserID string
	Data   interface{}
}

// Event is the envelope written to clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing every
// connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, conns := range h.clients {
				for c := range conns {
					close(c.send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]struct{})
			}
			h.clients[client.UserID][client] = struct{}{}
			total := h.countLocked()
			h.mu.Unlock()
			h.logger.Info("✅ [WEBSOCKET] Client connected",
				zap.String("user_id", client.UserID),
				zap.String("role", client.UserRole),
				zap.Int("connected", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			total := h.countLocked()
			h.mu.Unlock()
			h.logger.Info("🔴 [WEBSOCKET] Client disconnected",
				zap.String("user_id", client.UserID),
				zap.Int("connected", total))

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				h.logger.Error("❌ [WEBSOCKET] Failed to marshal message", zap.Error(err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients[message.UserID] {
				select {
				case c.send <- data:
				default:
					// Client buffer full, disconnect
					h.removeLocked(c)
					h.logger.Warn("⚠️  [WEBSOCKET] Client buffer full, disconnecting", zap.String("user_id", message.UserID))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) removeLocked(c *Client) {
	conns, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.UserID)
	}
}

func (h *Hub) countLocked() int {
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// BroadcastToUser queues data for every connection of userID. It drops the
// message rather than block when the hub is backed up.
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	default:
		h.logger.Warn("⚠️  [WEBSOCKET] Broadcast queue full, dropping message", zap.String("user_id", userID))
	}
}

// BroadcastToRole sends data to all connected users with role
func (h *Hub) BroadcastToRole(role string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("❌ [WEBSOCKET] Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for c := range conns {
			if c.UserRole != role {
				continue
			}
			select {
			case c.send <- dataBytes:
			default:
			}
		}
	}
}

// GetClientCount returns the number of open connections
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// IsUserConnected checks if a user has at least one open connection
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}
