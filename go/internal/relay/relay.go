// Package relay publishes room activity onto NATS so other venue systems
// (lobby screens, automation, analytics) can react without talking to the
// Room Controller directly.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/Barraka/erm/go/internal/roomctrl"
)

// Event types published on the bus
const (
	EventPropActivity   = "prop_activity"
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventRoomStatus     = "room_status"
)

// Config holds NATS relay settings
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "room.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay settings
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		SubjectPrefix: "room.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// busConn is the slice of *nats.Conn the relay uses
type busConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Relay publishes enveloped room events. Publishing is fire-and-forget:
// a bus outage must never stall the panel, so failures are logged and dropped.
type Relay struct {
	nc     busConn
	prefix string
}

// Connect dials NATS and returns a relay
func Connect(cfg Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("event relay connected")
	return &Relay{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Close drains the connection
func (r *Relay) Close() {
	if r == nil || r.nc == nil {
		return
	}
	if err := r.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}

// PublishPropEvent relays an informational prop event
func (r *Relay) PublishPropEvent(ev roomctrl.EventPayload) {
	r.publish(EventPropActivity, ev)
}

// PublishSessionEnded relays a finished session with its result
func (r *Relay) PublishSessionEnded(result string) {
	r.publish(EventSessionEnded, map[string]string{"result": result})
}

// PublishSessionStarted relays the start of a new session
func (r *Relay) PublishSessionStarted() {
	r.publish(EventSessionStarted, struct{}{})
}

// PublishStatusChange relays Room Controller link transitions
func (r *Relay) PublishStatusChange(status roomctrl.ConnectionStatus) {
	r.publish(EventRoomStatus, map[string]string{"status": string(status)})
}

func (r *Relay) publish(eventType string, payload any) {
	if r == nil || r.nc == nil {
		return
	}

	envelope := map[string]any{
		"eventId":   uuid.New().String(),
		"eventType": eventType,
		"timestamp": time.Now().UTC(),
		"payload":   payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal relay event")
		return
	}

	subject := fmt.Sprintf("%s.%s", r.prefix, eventType)
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish relay event")
		return
	}
	log.Debug().Str("subject", subject).Int("size", len(data)).Msg("relay event published")
}
