package room

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/app/presence"
	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

// handlePresence feeds one transport connectivity change through the
// identity resolver and reflects the outcome to the UI and the store.
func (s *Session) handlePresence(ev core.PresenceEvent) {
	p, change := s.roster.Apply(ev)
	if change == presence.NoChange {
		return
	}
	s.syncRoomParticipants()

	switch change {
	case presence.Joined:
		s.announceJoin(p)
		// Idempotent by contract: re-registering an existing identity
		// is success.
		if err := s.store.UpsertParticipant(s.ctx, s.room.ID, p.ID, p.Name); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("upsert joined participant")
		}
	case presence.Left:
		s.announceLeave(p)
	}
}

// handleSync routes one inbound SyncMessage. The self-echo guard runs
// before any mutation: a host must never act on its own rebroadcast.
func (s *Session) handleSync(m *protocol.SyncMessage) {
	if m.Sender() == s.local {
		log.Debug().Str("module", "app.room").Str("type", string(m.Type)).Msg("dropped self-echo")
		return
	}

	payload, err := m.Payload()
	if err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("bad sync message")
		return
	}

	s.refreshPremium(m)
	s.room.Touch()

	switch p := payload.(type) {
	case protocol.Ping:
		s.reply(protocol.NewControl(protocol.TypePong, s.local))
	case protocol.Pong:
		if !s.lastPingAt.IsZero() {
			s.corrector.ObserveLatency(time.Since(s.lastPingAt))
			s.lastPingAt = time.Time{}
		}
	case protocol.PlaybackState:
		s.onPlaybackState(m, p)
	case protocol.Play:
		s.onPlay(m, p)
	case protocol.Pause:
		s.onPause(m, p)
	case protocol.Seek:
		s.onSeek(m, p)
	case protocol.Chat:
		s.onChat(m, p)
	case protocol.StreamSelected:
		s.onStreamSelected(m, p)
	case protocol.RequestStream:
		s.onRequestStream()
	case protocol.Preload:
		s.onPreload()
	case protocol.Ready:
		s.onReady(m)
	case protocol.ReturnToLobby:
		s.onReturnToLobby(m)
	case protocol.RoomClosed:
		s.onRoomClosed(m)
	case protocol.Reaction:
		s.onReaction(m, p)
	case protocol.HostAnnouncement:
		// Host broadcast text bypasses the hide-reactions preference.
		s.ui.ShowReaction(m.Sender(), p.Text, true)
	}
}

// refreshPremium applies advisory premium fields from the envelope.
// The expiry timestamp always wins over the boolean.
func (s *Session) refreshPremium(m *protocol.SyncMessage) {
	p, ok := s.roster.Get(m.Sender())
	if !ok {
		return
	}
	if until := m.PremiumUntil(); !until.IsZero() {
		p.PremiumUntil = until
	}
	if m.IsPremium != nil {
		p.PremiumHint = *m.IsPremium
	}
}

// fromHost guards transitions only the room authority may drive.
func (s *Session) fromHost(m *protocol.SyncMessage) bool {
	return s.room.IsHost(m.Sender())
}

func (s *Session) onPlaybackState(m *protocol.SyncMessage, p protocol.PlaybackState) {
	if !s.fromHost(m) || s.isHost() {
		return
	}
	s.corrector.Report(p.Position, p.IsPlaying, time.Now())
}

func (s *Session) onPlay(m *protocol.SyncMessage, p protocol.Play) {
	if !s.fromHost(m) {
		return
	}
	s.setPhase(domain.PhasePlaying)
	if err := s.media.Seek(s.ctx, p.Position); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("seek on play")
	}
	if err := s.media.Play(s.ctx); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("play")
	}
}

func (s *Session) onPause(m *protocol.SyncMessage, p protocol.Pause) {
	if !s.fromHost(m) {
		return
	}
	s.setPhase(domain.PhasePaused)
	if err := s.media.Pause(s.ctx); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("pause")
	}
	if err := s.media.Seek(s.ctx, p.Position); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("seek on pause")
	}
}

func (s *Session) onSeek(m *protocol.SyncMessage, p protocol.Seek) {
	// Guests render a read-only progress bar; only host scrubs arrive
	// over the wire.
	if !s.fromHost(m) {
		return
	}
	if err := s.media.Seek(s.ctx, p.Position); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("seek")
	}
}

func (s *Session) onChat(m *protocol.SyncMessage, p protocol.Chat) {
	s.batcher.Add(core.ChatEntry{
		Sender:   m.Sender(),
		Username: p.Username,
		Text:     p.Text,
		At:       m.Time(),
	})
}

func (s *Session) onStreamSelected(m *protocol.SyncMessage, p protocol.StreamSelected) {
	if !s.fromHost(m) {
		return
	}
	sel := p.Selection
	if s.arbiter != nil {
		adopted, err := s.arbiter.AdoptBroadcast(s.ctx, sel, s.room.CurrentItem())
		if err != nil {
			log.Error().Str("module", "app.room").Err(err).Str("source", sel.SourceTitle).Msg("no playable stream for broadcast selection")
			s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyError, s.local, s.name, "no playable stream"))
			return
		}
		sel = adopted
	}
	s.room.Stream = sel
	if sel.URL != "" {
		if err := s.media.Load(s.ctx, sel.URL); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("load stream")
		}
	}
	s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyInfo, m.Sender(), "", "stream selected: "+sel.SourceTitle))
}

func (s *Session) onRequestStream() {
	if !s.isHost() || s.room.Stream.IsZero() {
		return
	}
	s.reply(protocol.NewStreamSelected(s.local, s.room.Stream))
}

func (s *Session) onPreload() {
	if s.room.Stream.URL == "" {
		return
	}
	if err := s.media.Load(s.ctx, s.room.Stream.URL); err != nil {
		log.Warn().Str("module", "app.room").Err(err).Msg("preload")
	}
}

func (s *Session) onReady(m *protocol.SyncMessage) {
	p, ok := s.roster.Get(m.Sender())
	if !ok {
		return
	}
	p.Ready = true
	s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyReady, p.ID, p.Name, ""))
}

// onReturnToLobby resets everyone's readiness and auto-rejoin
// eligibility together. Resetting only one of the two re-triggers the
// start condition indefinitely.
func (s *Session) onReturnToLobby(m *protocol.SyncMessage) {
	if !s.fromHost(m) {
		return
	}
	s.resetToLobby()
}

func (s *Session) resetToLobby() {
	for _, p := range s.roster.Snapshot() {
		p.Ready = false
		p.AutoJoin = false
	}
	s.setPhase(domain.PhaseLobby)
	if err := s.media.Pause(s.ctx); err != nil {
		log.Debug().Str("module", "app.room").Err(err).Msg("pause on lobby return")
	}
}

// onRoomClosed is the one transition a guest cannot veto.
func (s *Session) onRoomClosed(m *protocol.SyncMessage) {
	if s.isHost() {
		return
	}
	s.setPhase(domain.PhaseEnded)
	go s.Leave(ExitRoomClosed)
}

func (s *Session) onReaction(m *protocol.SyncMessage, p protocol.Reaction) {
	if !s.limiter.Allow(m.Sender()) {
		return
	}
	if s.hideReactions {
		return
	}
	s.ui.ShowReaction(m.Sender(), p.Text, false)
}

func (s *Session) setPhase(phase domain.Phase) {
	if s.room.Phase == phase || s.room.Phase == domain.PhaseEnded {
		return
	}
	s.room.Phase = phase
	s.ui.PhaseChanged(phase)
}

// reply publishes fire-and-forget; failures never block local progress.
func (s *Session) reply(m *protocol.SyncMessage) {
	if err := s.transport.Publish(s.ctx, s.room.ID, m); err != nil {
		log.Warn().Str("module", "app.room").Str("type", string(m.Type)).Err(err).Msg("publish")
	}
}
