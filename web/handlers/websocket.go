package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/rollcall/internal/engine"
)

// ReviewMessage is the frame pushed to websocket clients for every review event.
type ReviewMessage struct {
	Type string             `json:"type"`
	Data engine.ReviewEvent `json:"data"`
}

// ReviewHub manages websocket connections and fans review events out to them.
type ReviewHub struct {
	clients    map[clientInterface]bool
	broadcast  chan interface{}
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	// allowedHosts holds host[:port] values accepted in the Origin header.
	allowedHosts []string
	logger       *slog.Logger
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a websocket connection.
type Client struct {
	hub  *ReviewHub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewReviewHub creates a hub. allowedHosts lists the host[:port] values
// browsers may connect from; requests without an Origin header are always
// accepted.
func NewReviewHub(allowedHosts []string, logger *slog.Logger) *ReviewHub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReviewHub{
		clients:      make(map[clientInterface]bool),
		broadcast:    make(chan interface{}, 256),
		register:     make(chan clientInterface),
		unregister:   make(chan clientInterface),
		ctx:          ctx,
		cancel:       cancel,
		allowedHosts: allowedHosts,
		logger:       logger.With("component", "review_hub"),
	}
}

// Run starts the hub's message processing loop.
func (h *ReviewHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", count)

		case message := <-h.broadcast:
			// Full lock: slow clients are dropped from the map below.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("failed to marshal websocket message", "error", err)
				h.mu.Unlock()
				continue
			}

			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, client)
					h.logger.Warn("dropping slow websocket client")
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.logger.Debug("review hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *ReviewHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients. It never blocks; the
// message is dropped when the hub is saturated.
func (h *ReviewHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping message")
	}
}

// Publish broadcasts a review event. Its signature matches
// IdentityResolver.SetOnReviewEvent.
func (h *ReviewHub) Publish(ev engine.ReviewEvent) {
	h.Broadcast(ReviewMessage{Type: string(ev.Kind), Data: ev})
}

// ClientCount returns the number of connected clients.
func (h *ReviewHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *ReviewHub) Register(client clientInterface) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub.
func (h *ReviewHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *ReviewHub) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, host := range h.allowedHosts {
		if u.Host == host {
			return true
		}
	}
	return false
}

// ServeHTTP handles websocket upgrade requests.
func (h *ReviewHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.allowedHosts,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends queued messages to the connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// readPump drains client frames to detect disconnects. Clients are not
// expected to send anything.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {}
