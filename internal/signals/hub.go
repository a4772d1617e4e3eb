package signals

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/internal/syncbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// Inbound messages from app tabs.
const (
	MessageFocus   = "focus"
	MessageBlur    = "blur"
	MessageOnline  = "online"
	MessageOffline = "offline"
)

// Message is the JSON frame exchanged with tabs. Tabs send Type only; the
// hub sends {"type":"sync","event":{...}} for every published event.
type Message struct {
	Type  string             `json:"type"`
	Event *syncbus.SyncEvent `json:"event,omitempty"`
}

// Hub serves the signals websocket. Tabs report focus and connectivity
// changes, and receive every sync event so they can drop stale views.
type Hub struct {
	focus    *FocusTracker
	monitor  *ConnectivityMonitor
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub driving focus and monitor; either may be nil.
// allowOrigin decides the upgrade origin check; nil allows every origin.
func NewHub(focus *FocusTracker, monitor *ConnectivityMonitor, logger *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		focus:   focus,
		monitor: monitor,
		logger:  logger.Named("signals_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the tab.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("tab connected", zap.String("client_id", c.id))
	go c.writePump()
	go c.readPump()
}

// Broadcast forwards evt to every tab. Slow tabs drop the frame.
func (h *Hub) Broadcast(evt syncbus.SyncEvent) {
	data, err := json.Marshal(Message{Type: "sync", Event: &evt})
	if err != nil {
		h.logger.Error("failed to encode sync event", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping frame for slow tab", zap.String("client_id", c.id))
		}
	}
}

// Clients counts connected tabs.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every tab and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) handle(c *client, msg Message) {
	switch msg.Type {
	case MessageFocus, MessageBlur:
		if h.focus != nil {
			h.focus.SetFocused(msg.Type == MessageFocus)
		}
	case MessageOnline, MessageOffline:
		if h.monitor != nil {
			h.monitor.SetOnline(msg.Type == MessageOnline)
		}
	default:
		h.logger.Debug("ignoring unknown message", zap.String("client_id", c.id), zap.String("type", msg.Type))
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		close(c.send)
	})
}

// readPump applies tab messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("tab connection lost", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed message", zap.String("client_id", c.id), zap.Error(err))
			continue
		}
		c.hub.handle(c, msg)
	}
}

// writePump sends frames and heartbeats to the tab.
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
