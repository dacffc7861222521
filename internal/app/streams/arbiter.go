// Package streams picks the release a room actually plays: the host
// resolves candidates into a playable URL and broadcasts the result;
// guests match the broadcast descriptor against their own catalog.
package streams

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// ErrNoPlayableStream is surfaced to the user as an explicit failure
// state after both candidate tiers are exhausted. Never a silent empty.
var ErrNoPlayableStream = errors.New("no playable stream")

type Arbiter struct {
	resolver core.StreamResolver
}

func NewArbiter(r core.StreamResolver) *Arbiter {
	return &Arbiter{resolver: r}
}

// Resolve walks the preferred candidates first, then falls back to the
// deprioritized set. Preferred-only candidates are sometimes uniformly
// fake or corrupt releases; skipping the fallback tier produces false
// "nothing works" outcomes.
func (a *Arbiter) Resolve(ctx context.Context, media domain.MediaItem) (domain.StreamSelection, error) {
	cands, err := a.resolver.Candidates(ctx, media)
	if err != nil {
		return domain.StreamSelection{}, fmt.Errorf("list candidates: %w", err)
	}

	var preferred, fallback []core.StreamCandidate
	for _, c := range cands {
		if c.Deprioritized {
			fallback = append(fallback, c)
		} else {
			preferred = append(preferred, c)
		}
	}

	if sel, ok := a.tryTier(ctx, preferred); ok {
		return sel, nil
	}
	log.Warn().Str("module", "app.streams").Str("title", media.Title).Msg("preferred candidates exhausted, trying deprioritized set")
	if sel, ok := a.tryTier(ctx, fallback); ok {
		return sel, nil
	}
	return domain.StreamSelection{}, ErrNoPlayableStream
}

func (a *Arbiter) tryTier(ctx context.Context, tier []core.StreamCandidate) (domain.StreamSelection, bool) {
	for _, c := range tier {
		url, err := a.resolver.Unlock(ctx, c)
		if err != nil {
			log.Debug().Str("module", "app.streams").Str("source", c.SourceTitle).Err(err).Msg("unlock failed")
			continue
		}
		return selectionFrom(c, url), true
	}
	return domain.StreamSelection{}, false
}

// selectionFrom builds the broadcast descriptor. SourceTitle is always
// populated: it is the matching key for guests whose resolver returned
// no info hash, so every creation path must carry it.
func selectionFrom(c core.StreamCandidate, url string) domain.StreamSelection {
	return domain.StreamSelection{
		InfoHash:    c.InfoHash,
		FileIndex:   c.FileIndex,
		Quality:     c.Quality,
		URL:         url,
		SourceTitle: c.SourceTitle,
	}
}

// MatchBroadcast finds the local candidate corresponding to the host's
// descriptor. Hash match when the descriptor carries one; otherwise the
// host's original stream title. A missing hash is never fatal.
func MatchBroadcast(sel domain.StreamSelection, cands []core.StreamCandidate) (core.StreamCandidate, bool) {
	if sel.InfoHash != "" {
		for _, c := range cands {
			if c.InfoHash == sel.InfoHash && c.FileIndex == sel.FileIndex {
				return c, true
			}
		}
	}
	if sel.SourceTitle != "" {
		for _, c := range cands {
			if c.SourceTitle == sel.SourceTitle {
				return c, true
			}
		}
	}
	return core.StreamCandidate{}, false
}

// AdoptBroadcast resolves a host descriptor into something this client
// can play: the host's unlocked URL if usable, else our own unlock of
// the matching candidate.
func (a *Arbiter) AdoptBroadcast(ctx context.Context, sel domain.StreamSelection, media domain.MediaItem) (domain.StreamSelection, error) {
	if sel.URL != "" {
		return sel, nil
	}
	cands, err := a.resolver.Candidates(ctx, media)
	if err != nil {
		return domain.StreamSelection{}, fmt.Errorf("list candidates: %w", err)
	}
	c, ok := MatchBroadcast(sel, cands)
	if !ok {
		return domain.StreamSelection{}, ErrNoPlayableStream
	}
	url, err := a.resolver.Unlock(ctx, c)
	if err != nil {
		return domain.StreamSelection{}, fmt.Errorf("unlock matched candidate: %w", err)
	}
	return selectionFrom(c, url), nil
}
