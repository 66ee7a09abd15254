package publish

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gnss-bridge/internal/gps"
)

const (
	wsSendQueue  = 16
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Message is the envelope written to WebSocket clients. Data carries the
// same JSON as the UDP and MQTT payloads.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hub fans samples out to WebSocket clients. A new client first receives
// the latest status, then the latest device events. Slow clients lose messages instead of stalling the
// engine.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus []byte
	lastEvents map[string][]byte
	nav        navFilter
	closed     bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:        log.With().Str("component", "publish").Str("sink", "websocket").Logger(),
		clients:    make(map[*wsClient]struct{}),
		lastStatus: encodeMessage("status", StatusJSON(InitialStatus)),
		lastEvents: make(map[string][]byte, len(eventKinds)),
	}
}

func encodeMessage(kind string, data []byte) []byte {
	b, _ := json.Marshal(Message{Type: kind, Data: data})
	return b
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	c.send <- h.lastStatus
	for _, kind := range eventKinds {
		if msg, ok := h.lastEvents[kind]; ok {
			c.send <- msg
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Int("clients", n).Msg("websocket client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only handles control frames; clients are not expected to talk.
func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug().Msg("websocket client queue full; message dropped")
		}
	}
}

func (h *Hub) PublishNavData(s gps.NavDataSample) {
	h.mu.Lock()
	ok := h.nav.allow(s)
	h.mu.Unlock()
	if ok {
		h.broadcast(encodeMessage("nav", NavJSON(s)))
	}
}

func (h *Hub) PublishSystemStatus(s gps.SystemStatusSample) {
	msg := encodeMessage("status", StatusJSON(s))
	h.mu.Lock()
	h.lastStatus = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
	return nil
}
