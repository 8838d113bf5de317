package roomctrl

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire frame exchanged with the Room Controller in both
// directions: {type, timestamp (ms epoch), payload}
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Inbound message types
const (
	MsgTypeHello         = "hello"
	MsgTypeFullState     = "full_state"
	MsgTypePropUpdate    = "prop_update"
	MsgTypePropOnline    = "prop_online"
	MsgTypePropOffline   = "prop_offline"
	MsgTypeSessionUpdate = "session_update"
	MsgTypeSessionEnded  = "session_ended"
	MsgTypeEvent         = "event"
	MsgTypeCmdAck        = "cmd_ack"
)

// Outbound message types
const (
	MsgTypeCmd        = "cmd"
	MsgTypeSessionCmd = "session_cmd"
	MsgTypeHintGiven  = "hint_given"
)

// HelloPayload announces the room identity at the start of a connection epoch.
// A full_state message always follows it.
type HelloPayload struct {
	Room          RoomInfo `json:"room"`
	ServerVersion string   `json:"serverVersion"`
}

// FullStatePayload is the authoritative resynchronization snapshot
type FullStatePayload struct {
	Props   []Prop  `json:"props"`
	Session Session `json:"session"`
}

// PropUpdatePayload carries a partial Prop merged into the matching prop.
// Changes stays raw so absent fields leave the existing values untouched.
type PropUpdatePayload struct {
	PropID  string          `json:"propId"`
	Changes json.RawMessage `json:"changes"`
}

// PropRefPayload is used by prop_online / prop_offline
type PropRefPayload struct {
	PropID string `json:"propId"`
}

// SessionEndedPayload carries the outcome of a finished session
type SessionEndedPayload struct {
	Result string `json:"result"`
}

// EventPayload is an informational prop event; it never mutates the mirror
type EventPayload struct {
	PropID string `json:"propId"`
	Action string `json:"action"`
}

// CmdAckPayload correlates a server response to an outbound command
type CmdAckPayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// CmdPayload is the payload of prop-level commands
type CmdPayload struct {
	Command   string `json:"command"`
	PropID    string `json:"propId"`
	SensorID  string `json:"sensorId,omitempty"`
	RequestID string `json:"requestId"`
}

// SessionCmdPayload is the payload of session lifecycle commands
type SessionCmdPayload struct {
	Command   string  `json:"command"`
	Result    string  `json:"result,omitempty"`
	Comments  *string `json:"comments,omitempty"`
	RequestID string  `json:"requestId"`
}

// HintGivenPayload notifies the controller that a hint was sent to players
type HintGivenPayload struct {
	RequestID string `json:"requestId"`
}

// EncodeEnvelope wraps a payload in a wire envelope, stamping it with the
// current time in milliseconds.
func EncodeEnvelope(msgType string, payload any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := Envelope{
		Type:      msgType,
		Timestamp: now.UnixMilli(),
		Payload:   raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. Malformed frames are the caller's
// problem to log and drop; decoding never panics.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}
