// Package ws fans live trades out to dashboard websocket clients, with a per-topic
// replay buffer so new subscribers start with recent history.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/pkg/fixed"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 4096
	sendBuffer   = 256
)

// Message is one frame delivered to clients.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

// add appends a message, overwriting old entries when full.
func (r *ringBuffer) add(msg Message) {
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// since returns buffered messages with Seq > seq, oldest first.
func (r *ringBuffer) since(seq uint64) []Message {
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > seq {
			out = append(out, msg)
		}
	}
	return out
}

// Client represents a single WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	hub  *Hub

	mu     sync.RWMutex
	topics map[string]struct{}
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// Hub manages dashboard clients and topic fan-out.
type Hub struct {
	logger     *zap.Logger
	replaySize int

	mu      sync.RWMutex
	clients map[*Client]struct{}
	buffers map[string]*ringBuffer
	nextSeq uint64

	upgrader websocket.Upgrader
}

// NewHub creates a Hub keeping replaySize messages per topic.
func NewHub(replaySize int, logger *zap.Logger) *Hub {
	if replaySize <= 0 {
		replaySize = 100
	}
	return &Hub{
		logger:     logger.Named("ws"),
		replaySize: replaySize,
		clients:    make(map[*Client]struct{}),
		buffers:    make(map[string]*ringBuffer),
		nextSeq:    1,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast publishes a payload to a topic in the API's canonical number form. It never
// blocks: slow clients miss frames.
func (h *Hub) Broadcast(topic string, payload any) {
	data, err := fixed.Marshal(payload)
	if err != nil {
		h.logger.Warn("dropping unencodable broadcast", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.Lock()
	msg := Message{Topic: topic, Seq: h.nextSeq, Data: data}
	h.nextSeq++
	buf, ok := h.buffers[topic]
	if !ok {
		buf = newRingBuffer(h.replaySize)
		h.buffers[topic] = buf
	}
	buf.add(msg)
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// slow client
		}
	}
}

// Replay returns buffered messages for topic since the given sequence.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if buf, ok := h.buffers[topic]; ok {
		return buf.since(since)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and serves the client until it disconnects or ctx ends.
func (h *Hub) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("dashboard client connected", zap.String("client_id", c.id))

	go c.writePump(ctx)
	c.readPump()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// controlFrame is what clients send: {"subscribe":["trades"]} or {"unsubscribe":["trades:xyz:TSLA"]}.
type controlFrame struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
	Since       uint64   `json:"since"`
}

// readPump handles subscription frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		for _, topic := range frame.Subscribe {
			c.mu.Lock()
			c.topics[topic] = struct{}{}
			c.mu.Unlock()
			for _, m := range c.hub.Replay(topic, frame.Since) {
				select {
				case c.send <- m:
				default:
				}
			}
		}
		if len(frame.Unsubscribe) > 0 {
			c.mu.Lock()
			for _, topic := range frame.Unsubscribe {
				delete(c.topics, topic)
			}
			c.mu.Unlock()
		}
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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
