package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Barraka/erm/go/internal/gametimer"
	"github.com/Barraka/erm/go/internal/history"
	"github.com/Barraka/erm/go/internal/panel"
	"github.com/Barraka/erm/go/internal/relay"
	"github.com/Barraka/erm/go/internal/roomctrl"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Get configuration
	port := getEnv("PANEL_PORT", "8080")
	roomURL := getEnv("ROOM_WS_URL", "ws://localhost:3001")
	dbPath := getEnv("DB_PATH", "data/panel.db")
	natsURL := getEnv("NATS_URL", "")
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	roomDuration := time.Duration(getEnvAsInt("ROOM_DURATION_MINUTES", 60)) * time.Minute

	var defaultHints []string
	if cfg, err := loadConfig(configPath); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("no room profile loaded")
	} else {
		if cfg.Room.DurationMinutes > 0 {
			roomDuration = time.Duration(cfg.Room.DurationMinutes) * time.Minute
		}
		defaultHints = cfg.Room.DefaultHints
	}

	log.Info().
		Str("room_url", roomURL).
		Str("db_path", dbPath).
		Str("port", port).
		Dur("room_duration", roomDuration).
		Msg("starting game master panel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open local persistence
	store, err := history.Open(ctx, dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()
	seedHints(ctx, store, defaultHints)

	// Optional event relay
	var eventRelay *relay.Relay
	if natsURL != "" {
		eventRelay, err = relay.Connect(relay.DefaultConfig(natsURL))
		if err != nil {
			log.Error().Err(err).Msg("event relay unavailable, continuing without it")
		} else {
			defer eventRelay.Close()
		}
	}

	clock := clockwork.NewRealClock()
	timer := gametimer.New(clock, roomDuration)
	hub := panel.NewHub(panel.DefaultHubConfig())

	// The service is wired after the room client; both exist before Connect,
	// which is when callbacks start firing.
	var svc *panel.Service

	client := roomctrl.NewClient(roomctrl.Config{
		URL: roomURL,
		OnChange: func() {
			svc.BroadcastState()
		},
		OnStatusChange: func(status roomctrl.ConnectionStatus) {
			eventRelay.PublishStatusChange(status)
		},
		OnEvent: func(ev roomctrl.EventPayload) {
			svc.HandleRoomEvent(ev)
			eventRelay.PublishPropEvent(ev)
		},
		OnSessionEnded: func(result string) {
			svc.HandleSessionEnded(result)
			eventRelay.PublishSessionEnded(result)
		},
	})
	svc = panel.NewService(client, store, hub, timer, clock, roomDuration)

	go hub.Run(ctx)
	client.Connect()
	defer client.Disconnect()

	server := setupServer(svc, port)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("panel shutdown complete")
}

// seedHints loads the room profile's hint list on first run only; the game
// master's edits win afterwards.
func seedHints(ctx context.Context, store *history.Store, hints []string) {
	if len(hints) == 0 {
		return
	}
	existing, err := store.Hints(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read hints")
		return
	}
	if len(existing) > 0 {
		return
	}
	if err := store.ReplaceHints(ctx, hints); err != nil {
		log.Error().Err(err).Msg("failed to seed hints")
		return
	}
	log.Info().Int("count", len(hints)).Msg("seeded default hints")
}
