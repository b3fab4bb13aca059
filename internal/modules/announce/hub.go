package announce

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connection is a single WebSocket observer. An empty prefix set receives
// every event; otherwise only events touching a slot key with one of the
// prefixes (e.g. "2026-June") are delivered.
type connection struct {
	conn     *websocket.Conn
	send     chan []byte
	prefixes map[string]bool
}

// Hub fans events out to every connected observer.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{connections: make(map[*connection]struct{})}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Publish implements Publisher for a single process.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.broadcast(ev.SlotKeys, data)
	return nil
}

func (h *Hub) broadcast(keys []string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		if !c.wants(keys) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow observer, skip
		}
	}
}

func (c *connection) wants(keys []string) bool {
	if len(c.prefixes) == 0 || len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		for p := range c.prefixes {
			if strings.HasPrefix(k, p) {
				return true
			}
		}
	}
	return false
}

// ServeWS registers conn and blocks until the observer disconnects.
func (h *Hub) ServeWS(conn *websocket.Conn) {
	c := &connection{
		conn:     conn,
		send:     make(chan []byte, 64),
		prefixes: make(map[string]bool),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req struct {
			Type   string `json:"type"`
			Prefix string `json:"prefix"`
		}
		if err := json.Unmarshal(msg, &req); err != nil || req.Prefix == "" {
			continue
		}

		switch req.Type {
		case "subscribe":
			h.mu.Lock()
			c.prefixes[req.Prefix] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.prefixes, req.Prefix)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
