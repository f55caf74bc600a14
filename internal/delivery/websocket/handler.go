package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 64
	backlogOnStart = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams trading events to connected dashboards. A client that cannot
// keep up is disconnected instead of slowing the notifier down.
type Hub struct {
	log    *logrus.Entry
	recent domain.EventLog

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. recent may be nil; when set, new clients first get
// the latest events from it.
func NewHub(recent domain.EventLog, log *logrus.Entry) *Hub {
	return &Hub{
		log:     log.WithField("component", "websocket"),
		recent:  recent,
		clients: make(map[*client]struct{}),
	}
}

// Publish implements usecase.EventSink.
func (h *Hub) Publish(_ context.Context, e domain.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.drop(c)
		}
	}
	return nil
}

// Clients is the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.backlog(r.Context(), c)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": n}).Info("client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) backlog(ctx context.Context, c *client) {
	if h.recent == nil {
		return
	}
	events, err := h.recent.Recent(ctx, backlogOnStart)
	if err != nil {
		h.log.WithError(err).Warn("event backlog unavailable")
		return
	}
	// Recent is newest first; replay oldest first.
	for i := len(events) - 1; i >= 0; i-- {
		msg, err := json.Marshal(events[i])
		if err != nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
			return
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
}

// readPump only watches for close and pong frames.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
