// Package hub streams topology events to HTTP clients as server-sent events.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"tmaster/internal/service"
)

// KeepAliveInterval is how often an idle stream receives a comment line
var KeepAliveInterval = 30 * time.Second

// Client represents a connected SSE client
type Client struct {
	id     string
	events chan []byte
}

// Hub manages SSE client connections
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan service.Event
	done       chan struct{}
	logger     logr.Logger
}

// New creates a new Hub
func New(logger logr.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan service.Event, 256),
		done:       make(chan struct{}),
		logger:     logger.WithName("hub"),
	}
}

// Run starts the hub's event loop and returns when ctx is cancelled.
// All client streams are closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.V(1).Info("SSE client connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.V(1).Info("SSE client disconnected", "client", client.id, "total", n)

		case event := <-h.broadcast:
			msg, err := encode(event)
			if err != nil {
				h.logger.Error(err, "Failed to marshal event", "type", event.Type)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.events <- msg:
				default:
					// Client is slow, skip this message
					h.logger.Info("SSE client is slow, skipping message", "client", client.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Forward relays events from a bus subscription to connected clients until
// ctx is cancelled
func (h *Hub) Forward(ctx context.Context, ch <-chan service.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event service.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Info("Broadcast channel full, dropping event", "type", event.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles SSE connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		id:     uuid.NewString(),
		events: make(chan []byte, 64),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.events)
	}
}

func encode(event service.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data)), nil
}
