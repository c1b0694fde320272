// Package live pushes the dashboard state to websocket clients as it changes.
package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/blood-donor-assistant/internal/display"
	"github.com/wolfman30/blood-donor-assistant/internal/scheduler"
	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

// StateSource supplies the current snapshot for newly connected clients.
type StateSource interface {
	Snapshot() scheduler.Snapshot
}

// InboundMessage is what a client sends; only "ping" is understood.
type InboundMessage struct {
	Type string `json:"type"`
}

type OutboundMessage struct {
	Type  string        `json:"type"` // "state", "pong"
	State *display.View `json:"state,omitempty"`
}

// Hub tracks open connections and fans state updates out to them.
type Hub struct {
	source StateSource
	loc    *time.Location
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
	// x/net/websocket frames are not safe for concurrent writers.
	writeMu sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

func NewHub(source StateSource, loc *time.Location, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Hub{
		source: source,
		loc:    loc,
		logger: logger.With("component", "live"),
		conns:  make(map[string]*wsConn),
	}
}

// HandleWebSocket upgrades the request and streams state until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serveWS).ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn) {
	id := uuid.NewString()
	wsc := &wsConn{conn: conn}

	if h.source != nil {
		view := display.Build(h.source.Snapshot(), h.loc)
		if err := wsc.send(OutboundMessage{Type: "state", State: &view}); err != nil {
			h.logger.Debug("live: initial send failed", "conn_id", id, "error", err)
			return
		}
	}

	h.mu.Lock()
	h.conns[id] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
	}()

	h.logger.Info("live: connection opened", "conn_id", id)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("live: connection closed", "conn_id", id, "error", err)
			return
		}
		if msg.Type == "ping" {
			_ = wsc.send(OutboundMessage{Type: "pong"})
		}
	}
}

// Publish broadcasts snap to every connected client. It is registered as a
// scheduler listener.
func (h *Hub) Publish(snap scheduler.Snapshot) {
	view := display.Build(snap, h.loc)
	msg := OutboundMessage{Type: "state", State: &view}

	h.mu.RLock()
	targets := make(map[string]*wsConn, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Debug("live: broadcast failed", "conn_id", id, "error", err)
		}
	}
}

// Connections reports how many clients are attached.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
