package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/adapters/httpapi"
	"github.com/avolkov/lockstep/internal/adapters/mpv"
	"github.com/avolkov/lockstep/internal/adapters/redistore"
	"github.com/avolkov/lockstep/internal/adapters/redistx"
	"github.com/avolkov/lockstep/internal/adapters/sim"
	"github.com/avolkov/lockstep/internal/adapters/wstx"
	"github.com/avolkov/lockstep/internal/app/drift"
	"github.com/avolkov/lockstep/internal/app/room"
	"github.com/avolkov/lockstep/internal/config"
	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// logSink renders engine-derived UI state to the terminal.
type logSink struct{}

func (logSink) AppendChat(batch []core.ChatEntry) {
	for _, e := range batch {
		log.Info().Str("module", "ui").Str("from", e.Username).Msg(e.Text)
	}
}

func (logSink) ShowReaction(sender domain.ParticipantID, text string, announcement bool) {
	log.Info().Str("module", "ui").Str("from", string(sender)).Bool("announcement", announcement).Msg(text)
}

func (logSink) Lobby(msg domain.LobbyMessage) {
	log.Info().Str("module", "ui").Str("kind", string(msg.Kind)).Str("who", msg.Name).Msg(msg.Text)
}

func (logSink) PhaseChanged(phase domain.Phase) {
	log.Info().Str("module", "ui").Str("phase", string(phase)).Msg("phase changed")
}

func (logSink) Exited(reason string) {
	log.Info().Str("module", "ui").Str("reason", reason).Msg("left room")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		roomID   = flag.String("room", "", "room id to join (event: prefix for scheduled broadcasts)")
		identity = flag.String("id", "", "participant identity")
		name     = flag.String("name", "", "display name")
		asHost   = flag.Bool("host", false, "claim host authority for the room")
		headless = flag.Bool("headless", false, "use the simulated media engine instead of mpv")
	)
	flag.Parse()

	if *roomID == "" || *identity == "" {
		fmt.Fprintln(os.Stderr, "usage: lockstep -room <id> -id <identity> [-name <display>] [-host] [-headless]")
		os.Exit(2)
	}
	if *name == "" {
		*name = *identity
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	rtx, err := redistx.New(redistx.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect transport")
	}
	defer rtx.Close()

	store := redistore.New(rtx.Client())
	clock := redistx.NewClock(rtx.Client())

	// Redis pub/sub by default; a WebSocket relay when clients cannot
	// reach Redis directly. The store and clock stay on Redis either way.
	var transport core.Transport = rtx
	var relay *wstx.Transport
	if cfg.RelayURL != "" {
		relay = wstx.New(cfg.RelayURL, cfg.PingPeriod)
		transport = relay
	}

	var media core.MediaEngine
	if *headless {
		media = sim.New(0)
	} else {
		engine, err := mpv.Dial(cfg.MPVSocket)
		if err != nil {
			log.Fatal().Err(err).Str("socket", cfg.MPVSocket).Msg("failed to connect to mpv")
		}
		defer engine.Close()
		media = engine
	}

	r := domain.NewRoom(domain.RoomID(*roomID), "")
	local := domain.NormalizeID(*identity)
	if *asHost {
		r.HostID = local
	}

	sess := room.NewSession(room.Options{
		Room:      r,
		LocalID:   local,
		LocalName: *name,
		Transport: transport,
		Store:     store,
		Media:     media,
		Clock:     clock,
		UI:        logSink{},
		DriftPolicy: drift.Policy{
			SmallThreshold: cfg.DriftSmall,
			LargeThreshold: cfg.DriftLarge,
			CatchUpRate:    cfg.CatchUpRate,
			SlowDownRate:   cfg.SlowDownRate,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		ChatFlushInterval: cfg.ChatFlushInterval,
		ChatCap:           cfg.ChatCap,
		ReactionMinGap:    cfg.ReactionMinGap,
		ReactionWindow:    cfg.ReactionWindow,
		ReactionBurst:     cfg.ReactionBurst,
	})

	if relay != nil {
		// Events missed during a relay outage are permanently gone;
		// re-derive presence and the room row instead of resuming.
		relay.OnReconnect = sess.Resync
	}

	token := domain.ConnToken(uuid.NewString())
	if err := sess.Start(ctx, token); err != nil {
		log.Fatal().Err(err).Msg("failed to join room")
	}

	if !*asHost {
		go func() {
			probe := time.NewTicker(cfg.PingPeriod)
			defer probe.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-probe.C:
					sess.SendPing()
				}
			}
		}()
	}

	router := httpapi.SetupRouter(cfg.Mode, func() httpapi.StatusDTO {
		// Snapshot through the serializer so the HTTP goroutine never
		// reads room state concurrently with mutation.
		done := make(chan httpapi.StatusDTO, 1)
		sess.Do(func() {
			rm := sess.Room()
			dto := httpapi.StatusDTO{
				RoomID:        string(rm.ID),
				Phase:         string(rm.Phase),
				HostID:        string(rm.HostID),
				DistinctCount: rm.DistinctCount(),
				ReportedCount: rm.ReportedCount,
				SourceTitle:   rm.Stream.SourceTitle,
				InfoHash:      rm.Stream.InfoHash,
			}
			for id := range rm.Participants {
				dto.Participants = append(dto.Participants, string(id))
			}
			done <- dto
		})
		select {
		case dto := <-done:
			return dto
		case <-time.After(2 * time.Second):
			return httpapi.StatusDTO{RoomID: *roomID, Phase: "unavailable"}
		}
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		log.Info().Str("module", "main").Str("addr", srv.Addr).Msg("status API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status API error")
		}
	}()

	log.Info().
		Str("module", "main").
		Str("room", *roomID).
		Str("id", string(local)).
		Bool("host", *asHost).
		Bool("event", strings.HasPrefix(*roomID, domain.EventRoomPrefix)).
		Msg("joined")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sess.Leave(room.ExitLeft)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status API forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
