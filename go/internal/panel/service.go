// Package panel is the browser-facing boundary of the control panel: an HTTP
// API for commands and queries plus a WebSocket hub that streams room state to
// every open panel screen.
package panel

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Barraka/erm/go/internal/gametimer"
	"github.com/Barraka/erm/go/internal/history"
	"github.com/Barraka/erm/go/internal/roomctrl"
)

// RoomClient is the slice of the Room Controller client the panel drives
type RoomClient interface {
	Connect()
	Disconnect()
	Status() roomctrl.ConnectionStatus
	RoomInfo() *roomctrl.RoomInfo
	ServerVersion() string
	Props() []roomctrl.Prop
	Session() roomctrl.Session
	ElapsedMs() int64
	ForceSolve(ctx context.Context, propID string) error
	ResetProp(ctx context.Context, propID string) error
	TriggerSensor(ctx context.Context, propID, sensorID string) error
	StartSession(ctx context.Context) error
	PauseSession(ctx context.Context) error
	ResumeSession(ctx context.Context) error
	EndSession(ctx context.Context, result string, comments *string) error
	AbortSession(ctx context.Context) error
	NotifyHintGiven(ctx context.Context) error
}

// HistoryStore is the persistence the panel needs for sessions and hints
type HistoryStore interface {
	SaveSession(ctx context.Context, rec history.SessionRecord) (history.SessionRecord, error)
	ListSessions(ctx context.Context) ([]history.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	ClearSessions(ctx context.Context) error
	Hints(ctx context.Context) ([]string, error)
	ReplaceHints(ctx context.Context, hints []string) error
	UpdateHint(ctx context.Context, index int, text string) error
	DeleteHint(ctx context.Context, index int) error
	SetSetting(ctx context.Context, key string, value []byte) error
	Setting(ctx context.Context, key string) ([]byte, error)
	DeleteSetting(ctx context.Context, key string) error
}

// Panel frame types pushed over the hub
const (
	PanelMsgState        = "state"
	PanelMsgRoomEvent    = "room_event"
	PanelMsgSessionSaved = "session_saved"
)

// Service ties the Room Controller client, the history store, the countdown
// and the panel hub together behind the HTTP API.
type Service struct {
	room  RoomClient
	store HistoryStore
	hub   *Hub
	timer *gametimer.Countdown
	clock clockwork.Clock

	// roomDuration is the configured full game length, recorded with each
	// saved session so history shows how close the team came
	roomDuration time.Duration
}

// NewService creates the panel service
func NewService(room RoomClient, store HistoryStore, hub *Hub, timer *gametimer.Countdown, clock clockwork.Clock, roomDuration time.Duration) *Service {
	return &Service{
		room:         room,
		store:        store,
		hub:          hub,
		timer:        timer,
		clock:        clock,
		roomDuration: roomDuration,
	}
}

// StateSnapshot is the panel's consolidated view of the room, sent on request
// and rebroadcast on every change.
type StateSnapshot struct {
	ConnectionStatus roomctrl.ConnectionStatus `json:"connectionStatus"`
	Room             *roomctrl.RoomInfo        `json:"room,omitempty"`
	ServerVersion    string                    `json:"serverVersion,omitempty"`
	Props            []roomctrl.Prop           `json:"props"`
	PropGroups       []roomctrl.PropGroup      `json:"propGroups"`
	Session          roomctrl.Session          `json:"session"`
	ElapsedMs        int64                     `json:"elapsedMs"`
	Timer            TimerSnapshot             `json:"timer"`
	PanelClients     int                       `json:"panelClients"`
}

// TimerSnapshot is the countdown clock as the panel renders it
type TimerSnapshot struct {
	RemainingSec   int    `json:"remainingSec"`
	RemainingClock string `json:"remainingClock"`
	ElapsedSec     int    `json:"elapsedSec"`
	Running        bool   `json:"running"`
}

// Snapshot assembles the current panel view
func (s *Service) Snapshot() StateSnapshot {
	props := s.room.Props()
	return StateSnapshot{
		ConnectionStatus: s.room.Status(),
		Room:             s.room.RoomInfo(),
		ServerVersion:    s.room.ServerVersion(),
		Props:            props,
		PropGroups:       roomctrl.GroupByOrder(props),
		Session:          s.room.Session(),
		ElapsedMs:        s.room.ElapsedMs(),
		Timer:            s.timerSnapshot(),
		PanelClients:     s.hub.ClientCount(),
	}
}

func (s *Service) timerSnapshot() TimerSnapshot {
	remaining := s.timer.Remaining()
	return TimerSnapshot{
		RemainingSec:   int(remaining.Seconds()),
		RemainingClock: gametimer.FormatClock(remaining),
		ElapsedSec:     int(s.timer.Elapsed().Seconds()),
		Running:        s.timer.Running(),
	}
}

// BroadcastState pushes a fresh snapshot to every panel client. Wire it to
// the room client's OnChange.
func (s *Service) BroadcastState() {
	s.broadcast(PanelMsgState, s.Snapshot())
}

// HandleRoomEvent forwards an informational prop event to the panel screens.
// Wire it to the room client's OnEvent.
func (s *Service) HandleRoomEvent(ev roomctrl.EventPayload) {
	s.broadcast(PanelMsgRoomEvent, ev)
}

// HandleSessionEnded files a session record when the Room Controller reports
// the game over. Wire it to the room client's OnSessionEnded; the mirror's
// session is still intact when the callback runs.
func (s *Service) HandleSessionEnded(result string) {
	rec := history.SessionRecord{
		Result:           result,
		RoomDurationSec:  int(s.roomDuration.Seconds()),
		TimeRemainingSec: int(s.timer.Remaining().Seconds()),
		HintsGiven:       s.room.Session().HintsGiven,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	saved, err := s.store.SaveSession(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("result", result).Msg("failed to save session record")
		return
	}
	log.Info().Str("session_id", saved.ID).Str("result", result).Msg("session recorded")

	s.timer.Pause()
	s.broadcast(PanelMsgSessionSaved, saved)
}

func (s *Service) broadcast(msgType string, payload any) {
	frame, err := roomctrl.EncodeEnvelope(msgType, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to encode panel frame")
		return
	}
	s.hub.Broadcast(frame)
}
