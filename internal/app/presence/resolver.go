// Package presence resolves transport-level join/leave churn into a
// stable set of participants, one per canonical identity.
package presence

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// Change describes what a presence event did to the resolved roster.
type Change int

const (
	// NoChange: the event was absorbed without roster impact (extra
	// token joined or left while others remain).
	NoChange Change = iota
	Joined
	Left
	Refreshed
)

// Resolver maps ephemeral connection tokens onto canonical identities.
// It is owned by one room session serializer and is not safe for
// concurrent use; the serializer funnels all events through it.
type Resolver struct {
	participants map[domain.ParticipantID]*domain.Participant
	byToken      map[domain.ConnToken]domain.ParticipantID

	// announced dedupes join notifications per identity. Entries are
	// cleared on leave so a genuine re-join announces again.
	announced map[domain.ParticipantID]struct{}
}

func NewResolver() *Resolver {
	return &Resolver{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		byToken:      make(map[domain.ConnToken]domain.ParticipantID),
		announced:    make(map[domain.ParticipantID]struct{}),
	}
}

// resolveID picks the canonical identity for a join: the application
// user id when the transport attached one, the raw token otherwise.
func resolveID(ev core.PresenceEvent) domain.ParticipantID {
	if ev.Meta.UserID != "" {
		return domain.NormalizeID(ev.Meta.UserID)
	}
	return domain.NormalizeID(string(ev.Token))
}

// Apply feeds one presence event through the resolver and returns the
// affected participant plus the roster-level change.
func (r *Resolver) Apply(ev core.PresenceEvent) (*domain.Participant, Change) {
	if ev.Kind == core.PresenceJoin {
		return r.join(ev)
	}
	return r.leave(ev)
}

func (r *Resolver) join(ev core.PresenceEvent) (*domain.Participant, Change) {
	id := resolveID(ev)
	if id == "" {
		return nil, NoChange
	}
	r.byToken[ev.Token] = id

	if p, ok := r.participants[id]; ok {
		// Same human, another connection: a metadata refresh, not a
		// new participant.
		p.AddToken(ev.Token)
		r.refreshMeta(p, ev.Meta)
		log.Debug().Str("module", "app.presence").Str("id", string(id)).Int("tokens", len(p.Tokens)).Msg("token added")
		return p, Refreshed
	}

	name := ev.Meta.Username
	if name == "" {
		name = string(id)
	}
	p := domain.NewParticipant(id, name, ev.Token)
	r.refreshMeta(p, ev.Meta)
	r.participants[id] = p
	log.Info().Str("module", "app.presence").Str("id", string(id)).Msg("participant joined")
	return p, Joined
}

func (r *Resolver) leave(ev core.PresenceEvent) (*domain.Participant, Change) {
	id, ok := r.byToken[ev.Token]
	if !ok {
		return nil, NoChange
	}
	delete(r.byToken, ev.Token)

	p, ok := r.participants[id]
	if !ok {
		return nil, NoChange
	}
	if gone := p.DropToken(ev.Token); !gone {
		// Other tabs/windows of the same identity are still open: no
		// leave notification, no flapping.
		log.Debug().Str("module", "app.presence").Str("id", string(id)).Int("tokens", len(p.Tokens)).Msg("token dropped")
		return p, NoChange
	}
	delete(r.participants, id)
	delete(r.announced, id)
	log.Info().Str("module", "app.presence").Str("id", string(id)).Msg("participant left")
	return p, Left
}

func (r *Resolver) refreshMeta(p *domain.Participant, meta core.PresenceMeta) {
	if meta.Username != "" {
		p.Name = meta.Username
	}
	if meta.SubscriptionExpiresAt > 0 {
		sec := int64(meta.SubscriptionExpiresAt)
		p.PremiumUntil = time.Unix(sec, 0)
	}
	p.PremiumHint = meta.IsPremium
}

// Replay seeds the resolver from a connectivity snapshot. Handlers
// wired after startup would otherwise silently miss everyone who was
// already connected when they subscribed.
func (r *Resolver) Replay(conns map[domain.ConnToken]core.PresenceMeta) []*domain.Participant {
	var joined []*domain.Participant
	for token, meta := range conns {
		p, ch := r.join(core.PresenceEvent{Kind: core.PresenceJoin, Token: token, Meta: meta})
		if ch == Joined {
			joined = append(joined, p)
		}
	}
	return joined
}

// Reconcile replaces the tracked token universe with a fresh snapshot
// after a transport reconnect. Leaves missed during the outage surface
// as Left results; new arrivals as Joined.
func (r *Resolver) Reconcile(conns map[domain.ConnToken]core.PresenceMeta) (joined, left []*domain.Participant) {
	for token := range r.byToken {
		if _, ok := conns[token]; ok {
			continue
		}
		if p, ch := r.leave(core.PresenceEvent{Kind: core.PresenceLeave, Token: token}); ch == Left {
			left = append(left, p)
		}
	}
	joined = r.Replay(conns)
	return joined, left
}

// ShouldAnnounce reports whether a join notification for this identity
// is due, and marks it shown.
func (r *Resolver) ShouldAnnounce(id domain.ParticipantID) bool {
	if _, ok := r.announced[id]; ok {
		return false
	}
	r.announced[id] = struct{}{}
	return true
}

func (r *Resolver) Get(id domain.ParticipantID) (*domain.Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

// Count is the number of distinct identities with at least one open
// token. Never the number of raw events.
func (r *Resolver) Count() int {
	return len(r.participants)
}

func (r *Resolver) Snapshot() map[domain.ParticipantID]*domain.Participant {
	out := make(map[domain.ParticipantID]*domain.Participant, len(r.participants))
	for id, p := range r.participants {
		out[id] = p
	}
	return out
}

// Validate scans for corrupted roster entries. A tracked participant
// with an empty token set is fatal to the room.
func (r *Resolver) Validate() error {
	for _, p := range r.participants {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
