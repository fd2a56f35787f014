package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariefcatur/go-delivery-console/internal/alerts"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
	"github.com/ariefcatur/go-delivery-console/internal/metrics"
)

// Message kinds pushed to consoles.
const (
	KindToast  = "toast"
	KindTone   = "tone"
	KindHaptic = "haptic"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var ErrHubBusy = errors.New("websocket hub: broadcast buffer full")

var upgrader = websocket.Upgrader{
	// consoles are served from other origins in development
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	screen string // guarded by hub.mu
}

// screenUpdate is the only frame consoles send: the screen they moved to.
type screenUpdate struct {
	Screen *string `json:"screen"`
}

// Hub fans notification surfaces out to every connected console that is
// past the landing screen. It implements the alerts toast, sound and
// haptics outputs.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	metrics    *metrics.Set
	log        logx.Logger
	now        func() time.Time
}

func NewHub(m *metrics.Set, log logx.Logger) *Hub {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		metrics:    m,
		log:        log.With(logx.String("component", "ws_hub")),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WebsocketConnections.Inc()
			h.log.Info("console connected", logx.Int("clients", n))
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("console disconnected", logx.Int("clients", n))
		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.screen == alerts.ScreenLanding {
					continue
				}
				select {
				case c.send <- m:
				default:
					h.log.Warn("console too slow, dropping connection")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.WebsocketConnections.Dec()
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Surfacing counts the consoles that currently receive pushes.
func (h *Hub) Surfacing() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.screen != alerts.ScreenLanding {
			n++
		}
	}
	return n
}

func (h *Hub) setScreen(c *client, screen string) {
	h.mu.Lock()
	c.screen = screen
	h.mu.Unlock()
}

// Broadcast queues a message for every console. It never blocks.
func (h *Hub) Broadcast(kind string, data any) error {
	select {
	case h.broadcast <- Message{Type: kind, Data: data, Timestamp: h.now().UTC()}:
		return nil
	default:
		return ErrHubBusy
	}
}

func (h *Hub) Toast(_ context.Context, n alerts.Notification) error {
	return h.Broadcast(KindToast, n)
}

func (h *Hub) Play(_ context.Context, t alerts.Tone) error {
	return h.Broadcast(KindTone, t)
}

func (h *Hub) Vibrate(_ context.Context, p alerts.Pulse) error {
	ms := make([]int64, len(p))
	for i, d := range p {
		ms[i] = d.Milliseconds()
	}
	return h.Broadcast(KindHaptic, map[string]any{"patternMs": ms})
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer), hub: h, screen: r.URL.Query().Get("screen")}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump tracks screen updates and watches for close and pong frames.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", logx.Err(err))
			}
			return
		}
		var u screenUpdate
		if err := json.Unmarshal(b, &u); err != nil || u.Screen == nil {
			c.hub.log.Debug("ignoring console frame", logx.Int("bytes", len(b)))
			continue
		}
		c.hub.setScreen(c, *u.Screen)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(m)
			if err != nil {
				c.hub.log.Error("marshal websocket message", logx.String("type", m.Type), logx.Err(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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
