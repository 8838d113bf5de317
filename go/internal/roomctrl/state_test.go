package roomctrl

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func testEnvelope(t *testing.T, msgType string, payload any) Envelope {
	t.Helper()
	data, err := EncodeEnvelope(msgType, payload, time.Now())
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode %s: %v", msgType, err)
	}
	return env
}

type recordingAckSink struct {
	resolved []string
	rejected map[string]error
}

func newRecordingAckSink() *recordingAckSink {
	return &recordingAckSink{rejected: make(map[string]error)}
}

func (s *recordingAckSink) Resolve(requestID string) {
	s.resolved = append(s.resolved, requestID)
}

func (s *recordingAckSink) Reject(requestID string, err error) {
	s.rejected[requestID] = err
}

func ms(v int64) *int64 { return &v }

func TestHelloSetsRoomInfoOnly(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{{PropID: "p1", Name: "Lock"}},
	}), nil)

	m.Apply(testEnvelope(t, MsgTypeHello, HelloPayload{
		Room:          RoomInfo{Name: "The Vault"},
		ServerVersion: "1.4.2",
	}), nil)

	if got := m.RoomInfo(); got == nil || got.Name != "The Vault" {
		t.Fatalf("room info = %+v", got)
	}
	if m.ServerVersion() != "1.4.2" {
		t.Fatalf("server version = %q", m.ServerVersion())
	}
	if len(m.Props()) != 1 {
		t.Fatalf("hello must not touch prop state")
	}
}

func TestFullStateIsAuthoritative(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{
			{PropID: "p1", Name: "Lock", Order: 1},
			{PropID: "p2", Name: "Chest", Order: 2},
		},
	}), nil)

	// Deltas that the next snapshot must wipe out
	m.Apply(testEnvelope(t, MsgTypePropUpdate, PropUpdatePayload{
		PropID:  "p1",
		Changes: json.RawMessage(`{"solved":true,"override":true}`),
	}), nil)
	m.Apply(testEnvelope(t, MsgTypePropOnline, PropRefPayload{PropID: "p2"}), nil)

	want := FullStatePayload{
		Props: []Prop{{PropID: "p3", Name: "Mirror", Order: 1, Online: true}},
		Session: Session{
			Active:     true,
			StartedAt:  ms(1700000000000),
			HintsGiven: 2,
		},
	}
	m.Apply(testEnvelope(t, MsgTypeFullState, want), nil)

	if !reflect.DeepEqual(m.Props(), want.Props) {
		t.Fatalf("props = %+v, want %+v", m.Props(), want.Props)
	}
	if !reflect.DeepEqual(m.Session(), want.Session) {
		t.Fatalf("session = %+v, want %+v", m.Session(), want.Session)
	}
}

func TestPropUpdateMergesPartialChanges(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{
			{PropID: "p1", Name: "Lock", Online: true},
			{PropID: "p2", Name: "Chest"},
		},
	}), nil)

	m.Apply(testEnvelope(t, MsgTypePropUpdate, PropUpdatePayload{
		PropID:  "p1",
		Changes: json.RawMessage(`{"solved":true,"solvedAt":1700000005000}`),
	}), nil)

	props := m.Props()
	p1 := props[0]
	if !p1.Solved || p1.SolvedAt == nil || *p1.SolvedAt != 1700000005000 {
		t.Fatalf("changes not merged: %+v", p1)
	}
	if p1.Name != "Lock" || !p1.Online {
		t.Fatalf("untouched fields must survive the merge: %+v", p1)
	}
	if props[1].Solved {
		t.Fatalf("unreferenced prop mutated: %+v", props[1])
	}
}

func TestPropUpdateUnknownPropIsNoOp(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{{PropID: "p1", Name: "Lock"}},
	}), nil)
	before := m.Props()

	m.Apply(testEnvelope(t, MsgTypePropUpdate, PropUpdatePayload{
		PropID:  "ghost",
		Changes: json.RawMessage(`{"solved":true}`),
	}), nil)

	if !reflect.DeepEqual(m.Props(), before) {
		t.Fatalf("update for unknown prop must not fabricate or mutate anything")
	}
}

func TestPropOnlineOfflineTogglesFlagOnly(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{{PropID: "p1", Name: "Lock", Solved: true}},
	}), nil)

	m.Apply(testEnvelope(t, MsgTypePropOffline, PropRefPayload{PropID: "p1"}), nil)
	if p := m.Props()[0]; p.Online || !p.Solved || p.Name != "Lock" {
		t.Fatalf("prop_offline side effects: %+v", p)
	}

	m.Apply(testEnvelope(t, MsgTypePropOnline, PropRefPayload{PropID: "p1"}), nil)
	if p := m.Props()[0]; !p.Online {
		t.Fatalf("prop_online did not set flag: %+v", p)
	}
}

func TestSessionUpdateReplacesRecord(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeSessionUpdate, Session{
		Active:        true,
		StartedAt:     ms(1700000000000),
		PausedAt:      ms(1700000060000),
		TotalPausedMs: 5000,
		HintsGiven:    1,
	}), nil)

	got := m.Session()
	if !got.Active || got.PausedAt == nil || got.TotalPausedMs != 5000 {
		t.Fatalf("session = %+v", got)
	}
}

func TestSessionEndedResetsToInitialShape(t *testing.T) {
	var gotResult string
	m := NewMirror()
	m.onSessionEnded = func(result string) { gotResult = result }

	m.Apply(testEnvelope(t, MsgTypeSessionUpdate, Session{
		Active:        true,
		StartedAt:     ms(1700000000000),
		PausedAt:      ms(1700000060000),
		TotalPausedMs: 12000,
		HintsGiven:    4,
	}), nil)
	m.Apply(testEnvelope(t, MsgTypeSessionEnded, SessionEndedPayload{Result: "victory"}), nil)

	if gotResult != "victory" {
		t.Fatalf("result = %q", gotResult)
	}
	if !reflect.DeepEqual(m.Session(), Session{}) {
		t.Fatalf("session not reset: %+v", m.Session())
	}
}

func TestEventDoesNotMutateMirror(t *testing.T) {
	var got EventPayload
	m := NewMirror()
	m.onEvent = func(p EventPayload) { got = p }

	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{{PropID: "p1"}},
	}), nil)
	before := m.Props()

	m.Apply(testEnvelope(t, MsgTypeEvent, EventPayload{PropID: "p1", Action: "sensor_triggered"}), nil)

	if got.Action != "sensor_triggered" {
		t.Fatalf("event not surfaced: %+v", got)
	}
	if !reflect.DeepEqual(m.Props(), before) {
		t.Fatalf("event mutated the mirror")
	}
}

func TestCmdAckRoutedToSink(t *testing.T) {
	m := NewMirror()
	sink := newRecordingAckSink()

	m.Apply(testEnvelope(t, MsgTypeCmdAck, CmdAckPayload{RequestID: "req-1", Success: true}), sink)
	m.Apply(testEnvelope(t, MsgTypeCmdAck, CmdAckPayload{RequestID: "req-2", Success: false, Error: "jammed"}), sink)
	m.Apply(testEnvelope(t, MsgTypeCmdAck, CmdAckPayload{RequestID: "req-3", Success: false}), sink)

	if len(sink.resolved) != 1 || sink.resolved[0] != "req-1" {
		t.Fatalf("resolved = %v", sink.resolved)
	}
	if err := sink.rejected["req-2"]; err == nil || err.Error() != "jammed" {
		t.Fatalf("req-2 error = %v", err)
	}
	if err := sink.rejected["req-3"]; err == nil || err.Error() != "command failed" {
		t.Fatalf("req-3 should fall back to a generic message, got %v", err)
	}
	var cmdErr *CommandError
	if !errors.As(sink.rejected["req-2"], &cmdErr) {
		t.Fatalf("rejections should be CommandErrors")
	}
}

func TestUnknownTypeAndMalformedPayloadIgnored(t *testing.T) {
	m := NewMirror()
	m.Apply(testEnvelope(t, MsgTypeFullState, FullStatePayload{
		Props: []Prop{{PropID: "p1"}},
	}), nil)
	before := m.Props()

	m.Apply(Envelope{Type: "telemetry", Payload: json.RawMessage(`{}`)}, nil)
	m.Apply(Envelope{Type: MsgTypePropUpdate, Payload: json.RawMessage(`"not an object"`)}, nil)
	m.Apply(Envelope{Type: MsgTypeFullState, Payload: json.RawMessage(`{"props": 42}`)}, nil)

	if !reflect.DeepEqual(m.Props(), before) {
		t.Fatalf("bad frames must leave the mirror untouched")
	}
}
