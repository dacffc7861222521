package room

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

// Locally-originated commands. Each is funneled through the serializer
// like any inbound event; none mutates state from the caller's
// goroutine.

func (s *Session) SendChat(text string) {
	s.post(func() {
		s.reply(protocol.NewChat(s.local, s.name, text))
	})
}

func (s *Session) SendReaction(text string) {
	s.post(func() {
		// The limiter applies to our own emissions too; a violation is
		// dropped silently.
		if !s.limiter.Allow(s.local) {
			return
		}
		s.reply(protocol.NewReaction(s.local, text))
	})
}

// AnnounceText is a host broadcast shown to everyone regardless of
// their hide-reactions preference.
func (s *Session) AnnounceText(text string) {
	s.post(func() {
		if !s.isHost() {
			return
		}
		s.reply(protocol.NewHostAnnouncement(s.local, text))
	})
}

func (s *Session) SetReady() {
	s.post(func() {
		if p, ok := s.roster.Get(s.local); ok {
			p.Ready = true
		}
		s.reply(protocol.NewControl(protocol.TypeReady, s.local))
	})
}

// Play starts playback for the whole room. Host authority, or solo
// playback when no host is present.
func (s *Session) Play() {
	s.post(func() {
		if !s.mayScrub() {
			return
		}
		status, err := s.media.Status(s.ctx)
		if err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("status before play")
			return
		}
		if err := s.media.Play(s.ctx); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("play")
			return
		}
		s.setPhase(domain.PhasePlaying)
		if s.isHost() {
			s.reply(protocol.NewPlay(s.local, status.Position))
		}
	})
}

func (s *Session) Pause() {
	s.post(func() {
		if !s.mayScrub() {
			return
		}
		status, err := s.media.Status(s.ctx)
		if err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("status before pause")
			return
		}
		if err := s.media.Pause(s.ctx); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("pause")
			return
		}
		s.setPhase(domain.PhasePaused)
		if s.isHost() {
			s.reply(protocol.NewPause(s.local, status.Position))
		}
	})
}

// SeekTo scrubs interactively. Guests with a host present get a
// read-only progress indicator, so the command is refused for them.
func (s *Session) SeekTo(position float64) {
	s.post(func() {
		if !s.mayScrub() {
			return
		}
		if err := s.media.Seek(s.ctx, position); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("seek")
			return
		}
		if s.isHost() {
			s.reply(protocol.NewSeek(s.local, position))
		}
	})
}

// SelectStream resolves a playable release and broadcasts the
// descriptor. Every creation path goes through the arbiter, so the
// descriptor always carries the source title fallback key.
func (s *Session) SelectStream() {
	s.post(func() {
		if !s.isHost() || s.arbiter == nil {
			return
		}
		sel, err := s.arbiter.Resolve(s.ctx, s.room.CurrentItem())
		if err != nil {
			// Explicit failure state, no silent empty.
			log.Error().Str("module", "app.room").Err(err).Msg("stream resolution exhausted")
			s.ui.Lobby(domain.NewLobbyMessage(domain.LobbyError, s.local, s.name, "no playable stream"))
			return
		}
		s.room.Stream = sel
		if err := s.media.Load(s.ctx, sel.URL); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("load stream")
		}
		if err := s.store.UpsertRoom(s.ctx, s.roomRow()); err != nil {
			log.Warn().Str("module", "app.room").Err(err).Msg("persist stream selection")
		}
		s.reply(protocol.NewStreamSelected(s.local, sel))
	})
}

// RequestStream asks the host to rebroadcast the current selection,
// e.g. after joining late.
func (s *Session) RequestStream() {
	s.post(func() {
		if s.isHost() {
			return
		}
		s.reply(protocol.NewControl(protocol.TypeRequestStream, s.local))
	})
}

// ReturnToLobby resets the room for everyone. Host only.
func (s *Session) ReturnToLobby() {
	s.post(func() {
		if !s.isHost() {
			return
		}
		s.resetToLobby()
		s.reply(protocol.NewControl(protocol.TypeReturnToLobby, s.local))
	})
}

// CloseRoom ends the session for every participant. Host only.
func (s *Session) CloseRoom() {
	s.post(func() {
		if !s.isHost() {
			return
		}
		s.reply(protocol.NewControl(protocol.TypeRoomClosed, s.local))
		s.setPhase(domain.PhaseEnded)
		go s.Leave(ExitLeft)
	})
}

// SendPing starts one latency probe; the matching pong updates the
// half-RTT transit estimate.
func (s *Session) SendPing() {
	s.post(func() {
		s.lastPingAt = time.Now()
		s.reply(protocol.NewControl(protocol.TypePing, s.local))
	})
}

func (s *Session) BlockSender(id domain.ParticipantID) {
	s.post(func() { s.batcher.Block(id) })
}

func (s *Session) UnblockSender(id domain.ParticipantID) {
	s.post(func() { s.batcher.Unblock(id) })
}
