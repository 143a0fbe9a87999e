package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"spot-simulator/internal/model"
	"spot-simulator/internal/simulator"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// envelope is the frame sent to stream clients.
type envelope struct {
	Type string `json:"type"` // "snapshot" or an update kind
	Seq  int64  `json:"seq"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

type initialState struct {
	State simulator.State `json:"state"`
	Chart simulator.Chart `json:"chart"`
}

// Hub fans simulator updates out to WebSocket clients. Slow clients drop
// frames rather than stall the hub.
type Hub struct {
	sim *simulator.Simulator
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	seq     int64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates a hub. sim supplies the initial snapshot for new clients.
func NewHub(sim *simulator.Simulator, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{sim: sim, log: log, clients: make(map[*client]bool)}
}

// Run broadcasts updates until ctx is cancelled or the channel is closed.
func (h *Hub) Run(ctx context.Context, updates <-chan model.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.broadcast(string(u.Kind), u)
		}
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) frame(kind string, data any) []byte {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	b, err := json.Marshal(envelope{Type: kind, Seq: seq, TS: time.Now().UTC().Format(time.RFC3339Nano), Data: data})
	if err != nil {
		h.log.Error("stream frame marshal failed", zap.String("type", kind), zap.Error(err))
		return nil
	}
	return b
}

func (h *Hub) broadcast(kind string, data any) {
	msg := h.frame(kind, data)
	if msg == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// HandleWS upgrades the request and registers a stream client. The first
// frame is a "snapshot" carrying the current state and chart.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256), hub: h}
	if msg := h.frame("snapshot", initialState{State: h.sim.State(), Chart: h.sim.Chart()}); msg != nil {
		c.send <- msg
	}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("stream client connected", zap.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		c.hub.log.Info("stream client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ping struct {
			Ping int64 `json:"ping"`
		}
		if json.Unmarshal(msg, &ping) == nil && ping.Ping > 0 {
			pong, _ := json.Marshal(map[string]int64{"ping": ping.Ping, "server_ts": time.Now().UnixMilli()})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}
