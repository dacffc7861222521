package chat

import (
	"time"

	"github.com/avolkov/lockstep/internal/domain"
)

// ReactionLimiter throttles reaction emissions per sender context:
// a minimum gap between accepted emissions plus a sliding-window burst
// cap. Violations are silently dropped, never queued or errored.
type ReactionLimiter struct {
	minGap  time.Duration
	window  time.Duration
	burst   int
	history map[domain.ParticipantID][]time.Time
	now     func() time.Time
}

func NewReactionLimiter(minGap, window time.Duration, burst int) *ReactionLimiter {
	return &ReactionLimiter{
		minGap:  minGap,
		window:  window,
		burst:   burst,
		history: make(map[domain.ParticipantID][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether one reaction from the sender may be emitted
// now, and records it when accepted.
func (rl *ReactionLimiter) Allow(sender domain.ParticipantID) bool {
	now := rl.now()
	windowStart := now.Add(-rl.window)

	attempts := rl.history[sender]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.burst {
		rl.history[sender] = fresh
		return false
	}
	if n := len(fresh); n > 0 && now.Sub(fresh[n-1]) < rl.minGap {
		rl.history[sender] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[sender] = fresh
	return true
}

// Forget drops a sender's history, e.g. when they leave the room.
func (rl *ReactionLimiter) Forget(sender domain.ParticipantID) {
	delete(rl.history, sender)
}
