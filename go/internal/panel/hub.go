package panel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub fans room state and events out to every connected panel browser
// (the control screen, the secondary display popout, ...). Panel clients
// are listen-only; commands come in over the HTTP API.
type Hub struct {
	clients map[*panelConn]bool
	mu      sync.RWMutex

	upgrader    websocket.Upgrader
	config      HubConfig
	broadcastCh chan []byte
}

// panelConn is one connected panel browser
type panelConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

// HubConfig holds configuration for panel WebSocket connections
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns default panel connection settings
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The panel is served on the local network; restrict if exposed
			return true
		},
	}
}

// NewHub creates a panel hub
func NewHub(config HubConfig) *Hub {
	return &Hub{
		clients: make(map[*panelConn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan []byte, 256),
	}
}

// Run processes broadcasts until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("panel hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("panel hub shutting down")
			h.closeAll()
			return
		case frame := <-h.broadcastCh:
			h.fanOut(frame)
		}
	}
}

// Broadcast queues a frame for every connected panel client. Drops the frame
// when the hub is saturated rather than blocking the caller.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcastCh <- frame:
	default:
		log.Warn().Msg("panel broadcast channel full, dropping frame")
	}
}

// Upgrade turns an HTTP request into a panel connection
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &panelConn{
		id:   uuid.New().String()[:8],
		ws:   ws,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().Str("panel_conn", conn.id).Msg("panel client connected")
	return nil
}

// ClientCount returns the number of connected panel clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(conn *panelConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) unregister(conn *panelConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(conn.send)
		log.Info().Str("panel_conn", conn.id).Msg("panel client disconnected")
	}
}

// fanOut holds the read lock across the sends so a concurrent unregister
// cannot close a channel mid-send. The sends never block.
func (h *Hub) fanOut(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		select {
		case conn.send <- frame:
		default:
			// Slow or dead client; closing the socket makes its pumps
			// unregister it
			log.Warn().Str("panel_conn", conn.id).Msg("panel client send buffer full, closing")
			conn.ws.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*panelConn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.unregister(conn)
		conn.ws.Close()
	}
}

func (c *panelConn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("panel_conn", c.id).Msg("panel write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *panelConn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("panel_conn", c.id).Msg("panel read failed")
			}
			return
		}
		// Panel clients don't speak back over the socket; log and move on
		log.Debug().Str("panel_conn", c.id).RawJSON("frame", frame).Msg("ignoring inbound panel frame")
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
