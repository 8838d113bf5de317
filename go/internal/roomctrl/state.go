package roomctrl

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// ackSink receives cmd_ack payloads routed out of the inbound stream
type ackSink interface {
	Resolve(requestID string)
	Reject(requestID string, err error)
}

// Mirror holds the client-side copy of room, prop and session state. It is
// mutated only by Apply, which runs on the connection's read loop, so inbound
// messages are reconciled strictly in arrival order. Snapshot reads may come
// from any goroutine.
type Mirror struct {
	mu            sync.RWMutex
	roomInfo      *RoomInfo
	serverVersion string
	props         []Prop
	session       Session

	// onChange fires after any mutation of props/session/room info
	onChange func()
	// onEvent fires for informational prop events; never mutates the mirror
	onEvent func(EventPayload)
	// onSessionEnded fires with the result before the session record resets
	onSessionEnded func(result string)
}

// NewMirror creates an empty mirror. Callbacks may be nil.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Apply reconciles a single decoded envelope into the mirror. The switch is
// exhaustive over the inbound message set; unknown types are logged and
// ignored and a bad payload never poisons the connection.
func (m *Mirror) Apply(env Envelope, acks ackSink) {
	switch env.Type {
	case MsgTypeHello:
		var p HelloPayload
		if !unmarshalPayload(env, &p) {
			return
		}
		m.mu.Lock()
		room := p.Room
		m.roomInfo = &room
		m.serverVersion = p.ServerVersion
		m.mu.Unlock()
		log.Info().Str("room", p.Room.Name).Str("server_version", p.ServerVersion).Msg("connected to room")
		m.notifyChange()

	case MsgTypeFullState:
		var p FullStatePayload
		if !unmarshalPayload(env, &p) {
			return
		}
		m.mu.Lock()
		m.props = p.Props
		m.session = p.Session
		m.mu.Unlock()
		log.Info().Int("props", len(p.Props)).Msg("received full state")
		m.notifyChange()

	case MsgTypePropUpdate:
		var p PropUpdatePayload
		if !unmarshalPayload(env, &p) {
			return
		}
		m.mergeProp(p)

	case MsgTypePropOnline:
		m.setPropOnline(env, true)

	case MsgTypePropOffline:
		m.setPropOnline(env, false)

	case MsgTypeSessionUpdate:
		var p Session
		if !unmarshalPayload(env, &p) {
			return
		}
		m.mu.Lock()
		m.session = p
		m.mu.Unlock()
		m.notifyChange()

	case MsgTypeSessionEnded:
		var p SessionEndedPayload
		if !unmarshalPayload(env, &p) {
			return
		}
		log.Info().Str("result", p.Result).Msg("session ended")
		if m.onSessionEnded != nil {
			m.onSessionEnded(p.Result)
		}
		m.mu.Lock()
		m.session = Session{}
		m.mu.Unlock()
		m.notifyChange()

	case MsgTypeEvent:
		var p EventPayload
		if !unmarshalPayload(env, &p) {
			return
		}
		log.Debug().Str("prop_id", p.PropID).Str("action", p.Action).Msg("prop event")
		if m.onEvent != nil {
			m.onEvent(p)
		}

	case MsgTypeCmdAck:
		var p CmdAckPayload
		if !unmarshalPayload(env, &p) {
			return
		}
		if acks == nil {
			return
		}
		if p.Success {
			acks.Resolve(p.RequestID)
		} else {
			msg := p.Error
			if msg == "" {
				msg = "command failed"
			}
			acks.Reject(p.RequestID, &CommandError{Message: msg})
		}

	default:
		log.Warn().Str("type", env.Type).Msg("unknown message type - ignoring")
	}
}

// mergeProp merges a partial prop update into the matching prop. Unknown
// propIds are a no-op: a partial update must not fabricate a prop.
func (m *Mirror) mergeProp(p PropUpdatePayload) {
	m.mu.Lock()
	changed := false
	for i := range m.props {
		if m.props[i].PropID != p.PropID {
			continue
		}
		if err := json.Unmarshal(p.Changes, &m.props[i]); err != nil {
			log.Warn().Err(err).Str("prop_id", p.PropID).Msg("failed to merge prop update")
		} else {
			changed = true
		}
		break
	}
	m.mu.Unlock()
	if changed {
		m.notifyChange()
	}
}

func (m *Mirror) setPropOnline(env Envelope, online bool) {
	var p PropRefPayload
	if !unmarshalPayload(env, &p) {
		return
	}
	m.mu.Lock()
	changed := false
	for i := range m.props {
		if m.props[i].PropID == p.PropID {
			m.props[i].Online = online
			changed = true
			break
		}
	}
	m.mu.Unlock()
	if changed {
		m.notifyChange()
	}
}

// Props returns a copy of the prop collection
func (m *Mirror) Props() []Prop {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Prop, len(m.props))
	copy(out, m.props)
	return out
}

// Session returns the current session record
func (m *Mirror) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// RoomInfo returns the room identity, or nil before the first hello
func (m *Mirror) RoomInfo() *RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.roomInfo == nil {
		return nil
	}
	room := *m.roomInfo
	return &room
}

// ServerVersion returns the controller version from the last hello
func (m *Mirror) ServerVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serverVersion
}

// clearRoomInfo drops the room identity at the start of a connection epoch
func (m *Mirror) clearRoomInfo() {
	m.mu.Lock()
	m.roomInfo = nil
	m.serverVersion = ""
	m.mu.Unlock()
}

func (m *Mirror) notifyChange() {
	if m.onChange != nil {
		m.onChange()
	}
}

func unmarshalPayload(env Envelope, dst any) bool {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		log.Warn().Err(err).Str("type", env.Type).Msg("malformed payload - dropping message")
		return false
	}
	return true
}

// CommandError is a server-side command rejection carrying the message the
// Room Controller supplied in the failed ack.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}
