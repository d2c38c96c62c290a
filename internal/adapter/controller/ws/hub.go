// Package ws streams completed scan verdicts and shadow comparisons to
// WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// Topics a client can subscribe to
const (
	TopicScans  = "scans"
	TopicShadow = "shadow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Message is one frame sent to clients
type Message struct {
	Type      string `json:"type"` // result, shadow
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	Topic     string `json:"-"`
}

// Hub fans messages out to connected clients. Slow clients miss messages
// instead of slowing the publisher.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time
	clients    map[*client]struct{}
	broadcast  chan *Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
	mu     sync.RWMutex
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:        time.Now,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan *Message, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run delivers messages until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("WebSocket client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("WebSocket client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if msg.Topic != "" && !c.isSubscribed(msg.Topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// Publish queues a message for a topic. It reports false when the queue is
// full and the message was dropped.
func (h *Hub) Publish(topic, msgType string, payload any) bool {
	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Topic:     topic,
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// SubmitResult publishes a completed scan on the scans topic
func (h *Hub) SubmitResult(r *entity.ScanResult) bool {
	return h.Publish(TopicScans, "result", r)
}

// SubmitShadow publishes a shadow comparison on the shadow topic
func (h *Hub) SubmitShadow(rec *entity.ShadowComparisonRecord) bool {
	return h.Publish(TopicShadow, "shadow", rec)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the client to the scans topic.
// ?topics=scans,shadow overrides the initial subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: initialTopics(r.URL.Query().Get("topics")),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func initialTopics(raw string) map[string]bool {
	topics := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == TopicScans || t == TopicShadow {
			topics[t] = true
		}
	}
	if len(topics) == 0 {
		topics[TopicScans] = true
	}
	return topics
}

func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *client) setTopic(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read failed", "error", err)
			}
			return
		}
		c.handle(data)
	}
}

// handle applies {"action":"subscribe"|"unsubscribe","topic":...}
func (c *client) handle(data []byte) {
	var msg struct {
		Action string `json:"action"`
		Topic  string `json:"topic"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Action {
	case "subscribe":
		c.setTopic(msg.Topic, true)
	case "unsubscribe":
		c.setTopic(msg.Topic, false)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
