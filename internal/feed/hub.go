package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultWriteTimeout bounds a single websocket write
const DefaultWriteTimeout = 5 * time.Second

type wsClient struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	timeout time.Duration
}

// Hub broadcasts events to connected websocket clients
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	// greet, when set, produces the first event a new client receives
	greet        func() Event
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates a hub. greet may be nil.
func NewHub(logger zerolog.Logger, greet func() Event) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins, the feed is public
			},
		},
		logger:       logger,
		greet:        greet,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[*wsClient]bool),
	}
}

// SetWriteTimeout changes the write deadline for clients that connect afterwards.
// A client that cannot take an event within it is dropped.
func (h *Hub) SetWriteTimeout(d time.Duration) {
	h.mu.Lock()
	h.writeTimeout = d
	h.mu.Unlock()
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every client, dropping clients whose write fails
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug().Err(err).Msg("dropping websocket client")
			h.remove(c)
		}
	}
	return nil
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and keeps it registered until the peer goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.mu.RLock()
	client := &wsClient{conn: conn, timeout: h.writeTimeout}
	h.mu.RUnlock()
	if h.greet != nil {
		data, err := json.Marshal(h.greet())
		if err == nil {
			err = client.write(data)
		}
		if err != nil {
			h.logger.Debug().Err(err).Msg("failed to greet websocket client")
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}
