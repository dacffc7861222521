// Package room runs one watch session: a single-writer serializer that
// owns Room/Participant state and funnels every transport event, timer
// tick, and local command through one sequential point.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/app/chat"
	"github.com/avolkov/lockstep/internal/app/drift"
	"github.com/avolkov/lockstep/internal/app/presence"
	"github.com/avolkov/lockstep/internal/app/streams"
	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

var (
	ErrNotHost       = errors.New("operation requires host authority")
	ErrSessionClosed = errors.New("session closed")
)

// ExitReason values passed to UISink.Exited. Every teardown path names
// a successor context; the user is never stranded.
const (
	ExitLeft       = "left room"
	ExitRoomClosed = "room closed by host"
	ExitCorrupted  = "room state corrupted"
	ExitEventEnded = "event finished"
)

type command func()

// Options wires a session. Zero durations fall back to defaults.
type Options struct {
	Room      *domain.Room
	LocalID   domain.ParticipantID
	LocalName string

	Transport core.Transport
	Store     core.Store
	Media     core.MediaEngine
	Clock     core.ServerClock
	Resolver  core.StreamResolver
	UI        core.UISink

	DriftPolicy       drift.Policy
	HeartbeatInterval time.Duration
	ChatFlushInterval time.Duration
	ChatCap           int
	ReactionMinGap    time.Duration
	ReactionWindow    time.Duration
	ReactionBurst     int
	HideReactions     bool
}

// Session coordinates one room. All state behind it is mutated only by
// the run loop goroutine.
type Session struct {
	room  *domain.Room
	local domain.ParticipantID
	name  string
	token domain.ConnToken

	roster     *presence.Resolver
	corrector  *drift.Corrector
	eventClock *drift.EventClock
	arbiter    *streams.Arbiter
	batcher    *chat.Batcher
	limiter    *chat.ReactionLimiter

	transport core.Transport
	store     core.Store
	media     core.MediaEngine
	clock     core.ServerClock
	ui        core.UISink

	heartbeatEvery time.Duration
	flushEvery     time.Duration
	hideReactions  bool

	lastPingAt time.Time

	cmds      chan command
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	stopped   chan struct{}
}

func NewSession(opts Options) *Session {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.ChatFlushInterval <= 0 {
		opts.ChatFlushInterval = 200 * time.Millisecond
	}
	if opts.ReactionMinGap <= 0 {
		opts.ReactionMinGap = 150 * time.Millisecond
	}
	if opts.ReactionWindow <= 0 {
		opts.ReactionWindow = 2 * time.Second
	}
	if opts.ReactionBurst <= 0 {
		opts.ReactionBurst = 5
	}
	if opts.DriftPolicy == (drift.Policy{}) {
		opts.DriftPolicy = drift.DefaultPolicy()
	}

	s := &Session{
		room:           opts.Room,
		local:          domain.NormalizeID(string(opts.LocalID)),
		name:           opts.LocalName,
		roster:         presence.NewResolver(),
		corrector:      drift.NewCorrector(opts.DriftPolicy),
		batcher:        chat.NewBatcher(opts.ChatCap),
		limiter:        chat.NewReactionLimiter(opts.ReactionMinGap, opts.ReactionWindow, opts.ReactionBurst),
		transport:      opts.Transport,
		store:          opts.Store,
		media:          opts.Media,
		clock:          opts.Clock,
		ui:             opts.UI,
		heartbeatEvery: opts.HeartbeatInterval,
		flushEvery:     opts.ChatFlushInterval,
		hideReactions:  opts.HideReactions,
		cmds:           make(chan command, 256),
		stopped:        make(chan struct{}),
	}
	if opts.Resolver != nil {
		s.arbiter = streams.NewArbiter(opts.Resolver)
	}
	if opts.Room.ID.IsEvent() {
		s.eventClock = drift.NewEventClock(opts.Clock, opts.Room)
	}
	return s
}

// Start joins the room: measures the shared clock, subscribes, replays
// current presence, registers in the durable store, and launches the
// serializer loop.
func (s *Session) Start(ctx context.Context, token domain.ConnToken) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.token = token

	// One blocking round trip; re-runnable later, never during playback.
	if s.room.ID.IsEvent() {
		if err := s.clock.Measure(s.ctx); err != nil {
			return fmt.Errorf("measure clock offset: %w", err)
		}
	}

	err := s.transport.Subscribe(s.ctx, s.room.ID,
		func(m *protocol.SyncMessage) { s.post(func() { s.handleSync(m) }) },
		func(ev core.PresenceEvent) { s.post(func() { s.handlePresence(ev) }) },
	)
	if err != nil {
		return fmt.Errorf("subscribe room %s: %w", s.room.ID, err)
	}

	meta := core.PresenceMeta{UserID: string(s.local), Username: s.name}
	if err := s.transport.Announce(s.ctx, s.room.ID, token, meta); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}

	// The durable row is the authority on who hosts this room: a guest
	// adopts the registered host instead of writing one. Without this
	// every host-gated message would be dropped as unauthorized.
	if row, err := s.store.ReadRoom(s.ctx, s.room.ID); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("read room row")
	} else {
		s.adoptHost(row)
	}

	// Subscribing only wires future events; replay what was already
	// there before the handlers existed.
	conns, err := s.transport.Connectivity(s.ctx, s.room.ID)
	if err != nil {
		return fmt.Errorf("query connectivity: %w", err)
	}
	for _, p := range s.roster.Replay(conns) {
		s.announceJoin(p)
	}
	s.syncRoomParticipants()

	// Duplicate rows are success, not failure. Only the host writes the
	// room row; a guest writing it would clobber the registration it
	// just adopted from.
	if s.isHost() {
		if err := s.store.UpsertRoom(s.ctx, s.roomRow()); err != nil {
			return fmt.Errorf("upsert room: %w", err)
		}
	}
	if err := s.store.UpsertParticipant(s.ctx, s.room.ID, s.local, s.name); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	go s.run()
	log.Info().Str("module", "app.room").Str("room", string(s.room.ID)).Str("id", string(s.local)).Msg("session started")
	return nil
}

// run is the serializer: one command processed fully to completion
// before the next, timers multiplexed into the same loop so teardown
// stops everything at once.
func (s *Session) run() {
	heartbeat := time.NewTicker(s.heartbeatEvery)
	flush := time.NewTicker(s.flushEvery)
	defer heartbeat.Stop()
	defer flush.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd()
		case <-heartbeat.C:
			s.heartbeatTick()
		case <-flush.C:
			s.flushChat()
		}
	}
}

// post hands a command to the serializer. Drops when the session is
// shutting down rather than blocking the caller forever.
func (s *Session) post(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.ctx.Done():
	}
}

// Do posts a command and is the entry point for local UI actions.
func (s *Session) Do(cmd func()) {
	s.post(cmd)
}

// Leave tears the session down: timers, presence, and subscription go
// together, atomically from the serializer's point of view.
func (s *Session) Leave(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.transport.Release(ctx, s.room.ID, s.token); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("release presence")
		}
		if err := s.transport.Unsubscribe(ctx, s.room.ID); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("unsubscribe")
		}
		s.batcher.Reset()
		s.ui.Exited(reason)
		log.Info().Str("module", "app.room").Str("room", string(s.room.ID)).Str("reason", reason).Msg("session closed")
	})
}

// Resync re-derives current truth after a transport reconnect: events
// missed during the outage are gone, so the presence set and the room
// row are re-read instead of resumed.
func (s *Session) Resync() {
	s.post(func() {
		// Row first, so a host registered during the outage is adopted
		// before the reconciled roster is flagged and announced.
		row, rowErr := s.store.ReadRoom(s.ctx, s.room.ID)
		if rowErr != nil {
			log.Warn().Str("module", "app.room").Err(rowErr).Msg("resync room row")
		} else {
			s.adoptHost(row)
		}

		conns, err := s.transport.Connectivity(s.ctx, s.room.ID)
		if err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("resync connectivity")
			return
		}
		joined, left := s.roster.Reconcile(conns)
		for _, p := range joined {
			s.announceJoin(p)
		}
		for _, p := range left {
			s.announceLeave(p)
		}
		s.syncRoomParticipants()

		if rowErr == nil {
			// Display hint only; the reconciled roster stays authoritative.
			s.room.ReportedCount = row.ParticipantCount
			log.Info().Str("module", "app.room").Str("room", string(s.room.ID)).Int("reported", row.ParticipantCount).Msg("resynced after reconnect")
		}
	})
}

func (s *Session) isHost() bool {
	return s.room.IsHost(s.local)
}

// soloPlayback: a guest with no host present controls their own player.
func (s *Session) soloPlayback() bool {
	if s.room.ID.IsEvent() {
		return false
	}
	_, hostHere := s.roster.Get(s.room.HostID)
	return !hostHere && !s.isHost()
}

func (s *Session) mayScrub() bool {
	return s.isHost() || s.soloPlayback()
}

func (s *Session) roomRow() core.RoomRow {
	return core.RoomRow{
		ID:          s.room.ID,
		HostID:      s.room.HostID,
		Title:       s.room.Media.Title,
		SourceTitle: s.room.Stream.SourceTitle,
		InfoHash:    s.room.Stream.InfoHash,
		StartTime:   s.room.StartTime,
	}
}

// adoptHost takes the host identity from the durable row. A session
// that already knows its host keeps it; host migration is unsupported.
func (s *Session) adoptHost(row core.RoomRow) {
	if s.room.HostID != "" || row.HostID == "" {
		return
	}
	s.room.HostID = row.HostID
	log.Info().Str("module", "app.room").Str("room", string(s.room.ID)).Str("host", string(row.HostID)).Msg("adopted registered host")
}

func (s *Session) syncRoomParticipants() {
	snap := s.roster.Snapshot()
	for id, p := range snap {
		p.IsHost = s.room.IsHost(id)
	}
	s.room.Participants = snap
	s.room.Touch()
}

func (s *Session) announceJoin(p *domain.Participant) {
	if !s.roster.ShouldAnnounce(p.ID) {
		return
	}
	s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyJoin, p.ID, p.Name, ""))
}

func (s *Session) announceLeave(p *domain.Participant) {
	s.limiter.Forget(p.ID)
	s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyLeave, p.ID, p.Name, ""))
}

// heartbeatTick drives drift correction, host state reports, event
// countdown, and the roster invariant check.
func (s *Session) heartbeatTick() {
	if err := s.roster.Validate(); err != nil {
		// Corrupted roster is fatal to this room: tear down to a
		// defined fallback view, never an ambiguous half-state.
		log.Error().Str("module", "app.room").Err(err).Msg("roster invariant violated")
		s.room.Phase = domain.PhaseEnded
		s.ui.PhaseChanged(domain.PhaseEnded)
		go s.Leave(ExitCorrupted)
		return
	}

	if s.room.Phase == domain.PhaseEnded {
		return
	}

	status, err := s.media.Status(s.ctx)
	if err != nil {
		log.Debug().Str("module", "app.room").Err(err).Msg("media status")
		return
	}

	if s.eventClock != nil {
		s.eventTick(status)
		return
	}

	if s.isHost() {
		// Fire-and-forget: a failed publish never blocks local state.
		msg := protocol.NewPlaybackState(s.local, status.Position, status.IsPlaying)
		if err := s.transport.Publish(s.ctx, s.room.ID, msg); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("publish playback state")
		}
		return
	}

	if s.soloPlayback() || status.Buffering {
		return
	}
	s.applyDrift(status.Position)
}

func (s *Session) applyDrift(local float64) {
	action := s.corrector.Evaluate(local, time.Now())
	switch action.Kind {
	case drift.HardSeek:
		// Logged, never escalated to a user-visible error.
		log.Info().Str("module", "app.room").Float64("drift", action.DriftSec).Float64("to", action.SeekTo).Msg("hard seek to host position")
		if err := s.media.Seek(s.ctx, action.SeekTo); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("seek")
		}
	case drift.AdjustRate:
		log.Debug().Str("module", "app.room").Float64("drift", action.DriftSec).Float64("rate", action.Rate).Msg("rate catch-up")
		if err := s.media.SetRate(s.ctx, action.Rate); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("set rate")
		}
	case drift.RestoreRate:
		if err := s.media.SetRate(s.ctx, 1.0); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("restore rate")
		}
	}
}

// eventTick reconciles against the shared wall clock instead of a peer.
func (s *Session) eventTick(status core.MediaStatus) {
	expected := s.eventClock.Expected()

	if s.eventClock.Finished(status.Duration) {
		s.room.Phase = domain.PhaseEnded
		s.ui.PhaseChanged(domain.PhaseEnded)
		go s.Leave(ExitEventEnded)
		return
	}

	if expected <= 0 {
		// Not started yet; stay in the lobby countdown.
		return
	}

	if s.room.Phase == domain.PhaseLobby {
		s.room.Phase = domain.PhasePlaying
		s.ui.PhaseChanged(domain.PhasePlaying)
		if err := s.media.Play(s.ctx); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("event start play")
		}
	}
	if status.Buffering {
		return
	}
	s.corrector.Report(expected, true, time.Now())
	s.applyDrift(status.Position)
}

func (s *Session) flushChat() {
	if batch := s.batcher.Flush(); len(batch) > 0 {
		s.ui.AppendChat(batch)
	}
}

// Room returns the session's room for snapshot reads from the owning
// goroutine or tests; concurrent readers must go through Do.
func (s *Session) Room() *domain.Room { return s.room }
