// Package domain contains the room and participant entities, just
// state and invariants, no transport or scheduling logic.
package domain

import (
	"errors"
	"strings"
	"time"
)

const MaxDisplayNameLen = 64

var (
	ErrEmptyIdentity = errors.New("empty identity")
	ErrNoTokens      = errors.New("participant has no connection tokens")
)

type (
	// ParticipantID is a canonical identity: lower-cased, stable across
	// connections. All comparisons downstream are plain equality.
	ParticipantID string

	// ConnToken is one ephemeral transport connection. One identity may
	// hold several at once (second tab, reconnect race).
	ConnToken string
)

// NormalizeID folds an identity to canonical form. Every identity must
// pass through here exactly once, at the ingestion boundary.
func NormalizeID(raw string) ParticipantID {
	return ParticipantID(strings.ToLower(strings.TrimSpace(raw)))
}

// Participant is one human in a room, possibly connected through
// several transport connections at once.
type Participant struct {
	ID       ParticipantID
	Name     string
	IsHost   bool
	Ready    bool
	AutoJoin bool

	// PremiumUntil is authoritative for premium checks; wire-level
	// booleans are advisory only and may be stale.
	PremiumUntil time.Time
	PremiumHint  bool

	Tokens map[ConnToken]struct{}
}

func NewParticipant(id ParticipantID, name string, token ConnToken) *Participant {
	p := &Participant{
		ID:     id,
		Name:   name,
		Tokens: make(map[ConnToken]struct{}, 1),
	}
	p.Tokens[token] = struct{}{}
	return p
}

// Premium reports whether the subscription is live at the given time.
// The expiry timestamp always wins; the wire boolean is consulted only
// when no expiry was ever reported.
func (p *Participant) Premium(now time.Time) bool {
	if !p.PremiumUntil.IsZero() {
		return p.PremiumUntil.After(now)
	}
	return p.PremiumHint
}

func (p *Participant) AddToken(t ConnToken) {
	p.Tokens[t] = struct{}{}
}

// DropToken removes one connection. It reports whether the participant
// has no connections left and should be removed from the room.
func (p *Participant) DropToken(t ConnToken) (gone bool) {
	delete(p.Tokens, t)
	return len(p.Tokens) == 0
}

// Validate checks the invariants a tracked participant must hold.
func (p *Participant) Validate() error {
	if p.ID == "" {
		return ErrEmptyIdentity
	}
	if len(p.Tokens) == 0 {
		return ErrNoTokens
	}
	return nil
}
