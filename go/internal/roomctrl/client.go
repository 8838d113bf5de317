package roomctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Prop-level command verbs
const (
	CommandForceSolve    = "force_solve"
	CommandReset         = "reset"
	CommandTriggerSensor = "trigger_sensor"
)

// Session-level command verbs
const (
	SessionCommandStart  = "start"
	SessionCommandPause  = "pause"
	SessionCommandResume = "resume"
	SessionCommandEnd    = "end"
	SessionCommandAbort  = "abort"
)

// Config holds the settings for a Room Controller client
type Config struct {
	// URL of the Room Controller websocket endpoint, e.g. ws://host:3001
	URL string

	// AckTimeout bounds how long a command waits for its cmd_ack (default 10s)
	AckTimeout time.Duration

	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration

	// Clock drives ack timeouts and reconnect backoff; nil means real time
	Clock clockwork.Clock

	// OnChange fires after any mirror mutation or status transition
	OnChange func()
	// OnStatusChange fires with the new status on every link transition
	OnStatusChange func(ConnectionStatus)
	// OnEvent receives informational prop events for logging/toasts
	OnEvent func(EventPayload)
	// OnSessionEnded receives the result when the controller ends a session,
	// before the session record resets. Persist it here if you want history.
	OnSessionEnded func(result string)
}

// Client maintains a live mirror of a Room Controller's prop and session
// state and provides the typed command surface. Each Client owns its own
// connection, pending-request tracker and mirror, so independent clients can
// coexist in one process.
type Client struct {
	clock   clockwork.Clock
	conn    *connManager
	tracker *ackTracker
	mirror  *Mirror
}

// NewClient builds a client. It does not connect; call Connect.
func NewClient(cfg Config) *Client {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	mirror := NewMirror()
	mirror.onChange = cfg.OnChange
	mirror.onEvent = cfg.OnEvent
	mirror.onSessionEnded = cfg.OnSessionEnded

	tracker := newAckTracker(clock, cfg.AckTimeout)

	conn := newConnManager(connConfig{
		URL:                cfg.URL,
		BaseReconnectDelay: cfg.BaseReconnectDelay,
		MaxReconnectDelay:  cfg.MaxReconnectDelay,
	}, clock)

	c := &Client{
		clock:   clock,
		conn:    conn,
		tracker: tracker,
		mirror:  mirror,
	}

	conn.onFrame = c.handleFrame
	conn.onOpen = func() {
		// Fresh epoch: hello + full_state from the controller are authoritative
		mirror.clearRoomInfo()
	}
	conn.onClose = func() {
		// Fail in-flight commands now rather than letting them ride out the
		// ack timeout with no controller on the other end.
		tracker.RejectAll(ErrConnectionLost)
	}
	conn.onStatus = func(status ConnectionStatus) {
		if cfg.OnStatusChange != nil {
			cfg.OnStatusChange(status)
		}
		if cfg.OnChange != nil {
			cfg.OnChange()
		}
	}

	return c
}

// Connect opens the connection and starts the automatic reconnect loop.
// Idempotent while connecting or connected.
func (c *Client) Connect() {
	c.conn.Connect()
}

// Disconnect closes the connection and suppresses the automatic reconnect
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.conn.Status()
}

// Props returns a snapshot of the prop mirror
func (c *Client) Props() []Prop {
	return c.mirror.Props()
}

// Session returns the current session record
func (c *Client) Session() Session {
	return c.mirror.Session()
}

// RoomInfo returns the connected room's identity, nil until the first hello
func (c *Client) RoomInfo() *RoomInfo {
	return c.mirror.RoomInfo()
}

// ServerVersion returns the Room Controller's reported version
func (c *Client) ServerVersion() string {
	return c.mirror.ServerVersion()
}

// ElapsedMs returns the real elapsed play time of the current session,
// excluding paused intervals.
func (c *Client) ElapsedMs() int64 {
	return c.mirror.Session().ElapsedMs(c.clock.Now())
}

// ForceSolve marks a prop solved by operator override
func (c *Client) ForceSolve(ctx context.Context, propID string) error {
	return c.sendCommand(ctx, MsgTypeCmd, func(requestID string) any {
		return CmdPayload{Command: CommandForceSolve, PropID: propID, RequestID: requestID}
	})
}

// ResetProp returns a prop to its unsolved state
func (c *Client) ResetProp(ctx context.Context, propID string) error {
	return c.sendCommand(ctx, MsgTypeCmd, func(requestID string) any {
		return CmdPayload{Command: CommandReset, PropID: propID, RequestID: requestID}
	})
}

// TriggerSensor fires a single sensor on a prop
func (c *Client) TriggerSensor(ctx context.Context, propID, sensorID string) error {
	return c.sendCommand(ctx, MsgTypeCmd, func(requestID string) any {
		return CmdPayload{Command: CommandTriggerSensor, PropID: propID, SensorID: sensorID, RequestID: requestID}
	})
}

// StartSession starts a new game session
func (c *Client) StartSession(ctx context.Context) error {
	return c.sendSessionCommand(ctx, SessionCommandStart, "", nil)
}

// PauseSession pauses the running session
func (c *Client) PauseSession(ctx context.Context) error {
	return c.sendSessionCommand(ctx, SessionCommandPause, "", nil)
}

// ResumeSession resumes a paused session
func (c *Client) ResumeSession(ctx context.Context) error {
	return c.sendSessionCommand(ctx, SessionCommandResume, "", nil)
}

// EndSession ends the session with a result ("victory"/"defeat") and
// optional game-master comments.
func (c *Client) EndSession(ctx context.Context, result string, comments *string) error {
	return c.sendSessionCommand(ctx, SessionCommandEnd, result, comments)
}

// AbortSession abandons the session without recording a result
func (c *Client) AbortSession(ctx context.Context) error {
	return c.sendSessionCommand(ctx, SessionCommandAbort, "", nil)
}

// NotifyHintGiven increments the controller's hint counter
func (c *Client) NotifyHintGiven(ctx context.Context) error {
	return c.sendCommand(ctx, MsgTypeHintGiven, func(requestID string) any {
		return HintGivenPayload{RequestID: requestID}
	})
}

func (c *Client) sendSessionCommand(ctx context.Context, command, result string, comments *string) error {
	return c.sendCommand(ctx, MsgTypeSessionCmd, func(requestID string) any {
		return SessionCmdPayload{Command: command, Result: result, Comments: comments, RequestID: requestID}
	})
}

// sendCommand enrolls a fresh requestId with the tracker, sends the enveloped
// command, and waits for the matching cmd_ack. The mirror is never touched
// here: state changes arrive as independent server messages.
func (c *Client) sendCommand(ctx context.Context, msgType string, build func(requestID string) any) error {
	requestID := c.newRequestID()

	data, err := EncodeEnvelope(msgType, build(requestID), c.clock.Now())
	if err != nil {
		return err
	}

	done := c.tracker.Register(requestID)
	if !c.conn.SendRaw(data) {
		c.tracker.Unregister(requestID)
		return ErrNotConnected
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.tracker.Unregister(requestID)
		return ctx.Err()
	}
}

// newRequestID is unique within a connection epoch, which is all the ack
// correlation needs.
func (c *Client) newRequestID() string {
	return fmt.Sprintf("req-%d-%s", c.clock.Now().UnixMilli(), uuid.New().String()[:8])
}

func (c *Client) handleFrame(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	c.mirror.Apply(env, c.tracker)
}
