package panel

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Barraka/erm/go/internal/history"
	"github.com/Barraka/erm/go/internal/roomctrl"
)

// maxSettingSize bounds a stored setting value (64 KiB)
const maxSettingSize = 64 << 10

// Routes builds the panel API mux
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/room/connect", s.handleRoomConnect)
	mux.HandleFunc("POST /api/room/disconnect", s.handleRoomDisconnect)

	mux.HandleFunc("POST /api/props/command", s.handlePropCommand)
	mux.HandleFunc("POST /api/session/command", s.handleSessionCommand)
	mux.HandleFunc("POST /api/hints/given", s.handleHintGiven)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions", s.handleClearSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /api/hints", s.handleListHints)
	mux.HandleFunc("PUT /api/hints", s.handleReplaceHints)
	mux.HandleFunc("PUT /api/hints/{index}", s.handleUpdateHint)
	mux.HandleFunc("DELETE /api/hints/{index}", s.handleDeleteHint)

	mux.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", s.handlePutSetting)
	mux.HandleFunc("DELETE /api/settings/{key}", s.handleDeleteSetting)

	mux.HandleFunc("GET /api/timer", s.handleTimerState)
	mux.HandleFunc("POST /api/timer/command", s.handleTimerCommand)

	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("panel websocket upgrade failed")
		return
	}
	// Give the fresh screen something to render before the next broadcast
	s.BroadcastState()
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Service) handleRoomConnect(w http.ResponseWriter, r *http.Request) {
	s.room.Connect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(s.room.Status())})
}

func (s *Service) handleRoomDisconnect(w http.ResponseWriter, r *http.Request) {
	s.room.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.room.Status())})
}

// propCommandRequest mirrors the prop command verbs on the controller wire
type propCommandRequest struct {
	Action   string `json:"action"`
	PropID   string `json:"propId"`
	SensorID string `json:"sensorId,omitempty"`
}

func (s *Service) handlePropCommand(w http.ResponseWriter, r *http.Request) {
	var req propCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PropID == "" {
		writeError(w, http.StatusBadRequest, "propId is required")
		return
	}

	var err error
	switch req.Action {
	case roomctrl.CommandForceSolve:
		err = s.room.ForceSolve(r.Context(), req.PropID)
	case roomctrl.CommandReset:
		err = s.room.ResetProp(r.Context(), req.PropID)
	case roomctrl.CommandTriggerSensor:
		if req.SensorID == "" {
			writeError(w, http.StatusBadRequest, "sensorId is required for trigger_sensor")
			return
		}
		err = s.room.TriggerSensor(r.Context(), req.PropID, req.SensorID)
	default:
		writeError(w, http.StatusBadRequest, "unknown prop action: "+req.Action)
		return
	}
	writeCommandResult(w, err)
}

// sessionCommandRequest mirrors the session command verbs on the controller wire
type sessionCommandRequest struct {
	Action   string  `json:"action"`
	Result   string  `json:"result,omitempty"`
	Comments *string `json:"comments,omitempty"`
}

func (s *Service) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	var req sessionCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var err error
	switch req.Action {
	case roomctrl.SessionCommandStart:
		if err = s.room.StartSession(r.Context()); err == nil {
			s.timer.Reset(0)
			s.timer.Start()
		}
	case roomctrl.SessionCommandPause:
		if err = s.room.PauseSession(r.Context()); err == nil {
			s.timer.Pause()
		}
	case roomctrl.SessionCommandResume:
		if err = s.room.ResumeSession(r.Context()); err == nil {
			s.timer.Start()
		}
	case roomctrl.SessionCommandEnd:
		if req.Result == "" {
			writeError(w, http.StatusBadRequest, "result is required to end a session")
			return
		}
		err = s.room.EndSession(r.Context(), req.Result, req.Comments)
	case roomctrl.SessionCommandAbort:
		if err = s.room.AbortSession(r.Context()); err == nil {
			s.timer.Reset(0)
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown session action: "+req.Action)
		return
	}
	writeCommandResult(w, err)
}

func (s *Service) handleHintGiven(w http.ResponseWriter, r *http.Request) {
	writeCommandResult(w, s.room.NotifyHintGiven(r.Context()))
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []history.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Service) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearSessions(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to clear sessions")
		writeError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteSession(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to delete session")
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListHints(w http.ResponseWriter, r *http.Request) {
	hints, err := s.store.Hints(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list hints")
		writeError(w, http.StatusInternalServerError, "failed to list hints")
		return
	}
	if hints == nil {
		hints = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"hints": hints})
}

func (s *Service) handleReplaceHints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hints []string `json:"hints"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.store.ReplaceHints(r.Context(), req.Hints); err != nil {
		log.Error().Err(err).Msg("failed to replace hints")
		writeError(w, http.StatusInternalServerError, "failed to replace hints")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleUpdateHint(w http.ResponseWriter, r *http.Request) {
	index, ok := hintIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.store.UpdateHint(r.Context(), index, req.Text)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "hint not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("index", index).Msg("failed to update hint")
		writeError(w, http.StatusInternalServerError, "failed to update hint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeleteHint(w http.ResponseWriter, r *http.Request) {
	index, ok := hintIndex(w, r)
	if !ok {
		return
	}
	err := s.store.DeleteHint(r.Context(), index)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "hint not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int("index", index).Msg("failed to delete hint")
		writeError(w, http.StatusInternalServerError, "failed to delete hint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings are opaque values the panel screens stash per room (chosen
// background, sound pack, ...). The value is stored as-is.
func (s *Service) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.store.Setting(r.Context(), key)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to read setting")
		writeError(w, http.StatusInternalServerError, "failed to read setting")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (s *Service) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := io.ReadAll(io.LimitReader(r.Body, maxSettingSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(value) > maxSettingSize {
		writeError(w, http.StatusRequestEntityTooLarge, "setting too large")
		return
	}
	if err := s.store.SetSetting(r.Context(), key, value); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to store setting")
		writeError(w, http.StatusInternalServerError, "failed to store setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.DeleteSetting(r.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to delete setting")
		writeError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleTimerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.timerSnapshot())
}

// timerCommandRequest drives the local countdown. Independent of the
// controller's session commands so the game master can adjust the clock
// mid-game.
type timerCommandRequest struct {
	Action  string `json:"action"`
	Seconds int    `json:"seconds,omitempty"`
}

func (s *Service) handleTimerCommand(w http.ResponseWriter, r *http.Request) {
	var req timerCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Action {
	case "start":
		s.timer.Start()
	case "pause":
		s.timer.Pause()
	case "reset":
		s.timer.Reset(time.Duration(req.Seconds) * time.Second)
	case "add":
		s.timer.AddTime(time.Duration(req.Seconds) * time.Second)
	default:
		writeError(w, http.StatusBadRequest, "unknown timer action: "+req.Action)
		return
	}

	s.BroadcastState()
	writeJSON(w, http.StatusOK, s.timerSnapshot())
}

func hintIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid hint index")
		return 0, false
	}
	return index, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeCommandResult maps a room command outcome onto the HTTP response.
// Server rejections and delivery failures get distinct status codes so the
// panel can tell "the controller said no" from "the controller is gone".
func writeCommandResult(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	status := http.StatusInternalServerError
	var cmdErr *roomctrl.CommandError
	switch {
	case errors.As(err, &cmdErr):
		status = http.StatusConflict
	case errors.Is(err, roomctrl.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, roomctrl.ErrCommandTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, roomctrl.ErrConnectionLost):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
