// Package websocket pushes forecast lifecycle events to connected browsers.
// A single Hub fans broadcast messages out to every registered client; the
// forecast service publishes through the Hub's BroadcastEvent method.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chainintel/internal/infrastructure"
)

// Event names pushed over the wire.
const (
	EventConnected         = "connection:established"
	EventForecastStarted   = "forecast:started"
	EventForecastCompleted = "forecast:completed"
	EventForecastFailed    = "forecast:failed"
	EventSnapshotSaved     = "snapshot:saved"
)

// Event is the wire envelope for every hub message.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
	quit    chan struct{}
	done    chan struct{}

	logger  *slog.Logger
	metrics *infrastructure.ForecastMetrics

	totalConnections int64
	messagesSent     int64
}

// NewHub creates a hub. The metrics argument may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.ForecastMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
	}
}

// Start launches the hub loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			h.dropAll()
			close(h.done)
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.totalConnections++
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("active_clients", count))

	if h.metrics != nil {
		h.metrics.WebSocketConnections.Add(ctx, 1)
	}

	welcome, err := json.Marshal(Event{
		Type:      EventConnected,
		Data:      map[string]interface{}{"client_id": client.id},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   client.traceID,
	})
	if err == nil {
		select {
		case client.send <- welcome:
		default:
			h.logger.WarnContext(ctx, "welcome message dropped, client buffer full",
				slog.String("client_id", client.id))
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("active_clients", count))

	if h.metrics != nil {
		h.metrics.WebSocketConnections.Add(ctx, -1)
	}
}

func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	failed := 0
	for _, client := range clients {
		select {
		case client.send <- message:
			h.mu.Lock()
			h.messagesSent++
			h.mu.Unlock()
		default:
			// Slow consumer. Drop it rather than block the hub.
			failed++
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.WarnContext(client.context(), "client send buffer full, disconnecting",
				slog.String("client_id", client.id))
			if h.metrics != nil {
				h.metrics.WebSocketConnections.Add(client.context(), -1)
			}
		}
	}

	if failed > 0 {
		h.logger.Warn("broadcast partially delivered",
			slog.Int("delivered", len(clients)-failed),
			slog.Int("dropped", failed))
	}
}

// BroadcastEvent serializes an event and queues it for all clients. It
// satisfies the broadcaster interface used by the forecast service.
func (h *Hub) BroadcastEvent(event string, payload interface{}) {
	h.BroadcastEventWithTrace(event, payload, "")
}

// BroadcastEventWithTrace is BroadcastEvent with an explicit trace ID.
func (h *Hub) BroadcastEventWithTrace(event string, payload interface{}, traceID string) {
	data, err := json.Marshal(Event{
		Type:      event,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
	if err != nil {
		h.logger.Error("event marshal failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.quit:
	}
}

// Register queues a client for registration. It reports false when the
// hub has shut down and the client was refused.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports hub counters for diagnostics.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
	}
}

// dropAll disconnects every remaining client. It runs on the hub
// goroutine, the only sender on client channels, so closing here cannot
// race an in-flight broadcast.
func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Stop shuts the hub down and disconnects all clients. It returns once
// the hub goroutine has finished tearing down.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}
