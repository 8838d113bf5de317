package roomctrl

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Reconnect backoff per the Room Controller protocol: base 2s, factor 1.5,
// capped at 30s, reset on a successful connect.
const (
	defaultBaseReconnectDelay = 2 * time.Second
	defaultMaxReconnectDelay  = 30 * time.Second
	defaultBackoffFactor      = 1.5
	defaultWriteTimeout       = 10 * time.Second
	defaultHandshakeTimeout   = 10 * time.Second
)

type connConfig struct {
	URL                string
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration
	BackoffFactor      float64
	WriteTimeout       time.Duration
	HandshakeTimeout   time.Duration
}

func (c *connConfig) applyDefaults() {
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = defaultBaseReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = defaultBackoffFactor
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
}

type dialFunc func(url string) (*websocket.Conn, error)

// connManager owns the transport handle and its lifecycle: connect,
// disconnect, and the reconnect loop. Nothing else touches the socket.
type connManager struct {
	cfg   connConfig
	clock clockwork.Clock
	dial  dialFunc

	mu             sync.Mutex
	wmu            sync.Mutex
	status         ConnectionStatus
	ws             *websocket.Conn
	reconnectDelay time.Duration
	reconnectTimer clockwork.Timer
	epoch          uint64

	onOpen   func()
	onClose  func()
	onFrame  func([]byte)
	onStatus func(ConnectionStatus)
}

func newConnManager(cfg connConfig, clock clockwork.Clock) *connManager {
	cfg.applyDefaults()
	m := &connManager{
		cfg:            cfg,
		clock:          clock,
		status:         StatusDisconnected,
		reconnectDelay: cfg.BaseReconnectDelay,
	}
	m.dial = func(url string) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		ws, resp, err := dialer.Dial(url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return ws, err
	}
	return m
}

// Connect opens the transport. Idempotent: calling it while connecting or
// connected is a no-op. Dialing happens off the caller's goroutine.
func (m *connManager) Connect() {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.status = StatusConnecting
	epoch := m.epoch
	m.mu.Unlock()

	m.notifyStatus(StatusConnecting)
	log.Info().Str("url", m.cfg.URL).Msg("connecting to room controller")

	go m.runConnect(epoch)
}

func (m *connManager) runConnect(epoch uint64) {
	ws, err := m.dial(m.cfg.URL)

	m.mu.Lock()
	if m.epoch != epoch || m.status != StatusConnecting {
		// Disconnect() raced the dial; this attempt no longer matters
		m.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		m.status = StatusDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		log.Warn().Err(err).Str("url", m.cfg.URL).Msg("connect failed")
		m.notifyStatus(StatusDisconnected)
		return
	}
	m.ws = ws
	m.status = StatusConnected
	m.reconnectDelay = m.cfg.BaseReconnectDelay
	m.mu.Unlock()

	log.Info().Str("url", m.cfg.URL).Msg("connected")
	m.notifyStatus(StatusConnected)
	if m.onOpen != nil {
		m.onOpen()
	}

	go m.readLoop(ws)
}

// readLoop delivers inbound frames in arrival order. Frame handling runs
// synchronously here, which is what gives the reconciler its ordering
// guarantee.
func (m *connManager) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			break
		}
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
	m.handleClose(ws)
}

func (m *connManager) handleClose(ws *websocket.Conn) {
	ws.Close()

	m.mu.Lock()
	if m.ws != ws {
		// Already detached by Disconnect(); no automatic reconnect
		m.mu.Unlock()
		if m.onClose != nil {
			m.onClose()
		}
		return
	}
	m.ws = nil
	m.status = StatusDisconnected
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	log.Info().Msg("disconnected from room controller")
	m.notifyStatus(StatusDisconnected)
	if m.onClose != nil {
		m.onClose()
	}
}

// scheduleReconnectLocked arms the reconnect timer with the current delay and
// then grows the delay for the next failure. Caller holds m.mu.
func (m *connManager) scheduleReconnectLocked() {
	delay := m.reconnectDelay
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.Connect()
	})

	next := time.Duration(float64(delay) * m.cfg.BackoffFactor)
	if next > m.cfg.MaxReconnectDelay {
		next = m.cfg.MaxReconnectDelay
	}
	m.reconnectDelay = next

	log.Info().Dur("delay", delay).Msg("reconnect scheduled")
}

// Disconnect closes the transport and cancels any pending reconnect. Only
// this explicit call suppresses the automatic reconnect; a later Connect()
// starts a fresh cycle.
func (m *connManager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	ws := m.ws
	m.ws = nil
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	if changed {
		m.notifyStatus(StatusDisconnected)
	}
}

// SendRaw writes a frame if the transport is open. It reports whether the
// send was attempted and never returns an error to the caller.
func (m *connManager) SendRaw(data []byte) bool {
	m.mu.Lock()
	ws := m.ws
	open := m.status == StatusConnected
	m.mu.Unlock()
	if !open || ws == nil {
		return false
	}

	m.wmu.Lock()
	defer m.wmu.Unlock()
	ws.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

// Status returns the current connection status
func (m *connManager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *connManager) notifyStatus(s ConnectionStatus) {
	if m.onStatus != nil {
		m.onStatus(s)
	}
}
