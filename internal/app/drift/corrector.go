// Package drift decides how a guest's player catches up to the host's
// reported timeline.
package drift

import (
	"time"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// ActionKind is what the corrector wants done to the local player.
type ActionKind int

const (
	// None: drift is within tolerance, leave playback alone.
	None ActionKind = iota
	// AdjustRate: smooth catch-up at the given rate until drift
	// collapses, then restore 1.0. No visible jump.
	AdjustRate
	// HardSeek: drift is beyond the large threshold, snap to the host.
	HardSeek
	// RestoreRate: a previous rate adjustment has done its job.
	RestoreRate
)

type Action struct {
	Kind     ActionKind
	Rate     float64
	SeekTo   float64
	DriftSec float64
}

// Policy holds the tunable correction thresholds. Values come from
// configuration, not hard-coded law.
type Policy struct {
	SmallThreshold float64 // seconds, below this do nothing
	LargeThreshold float64 // seconds, above this hard seek
	CatchUpRate    float64 // rate while behind the host
	SlowDownRate   float64 // rate while ahead of the host
}

func DefaultPolicy() Policy {
	return Policy{
		SmallThreshold: 1.5,
		LargeThreshold: 8.0,
		CatchUpRate:    1.25,
		SlowDownRate:   0.75,
	}
}

// Corrector tracks the last host report and whether a rate adjustment
// is currently active. Owned by the room session serializer.
type Corrector struct {
	policy    Policy
	adjusting bool

	lastReport    *hostReport
	oneWayLatency time.Duration
	samples       int
}

type hostReport struct {
	position   float64
	isPlaying  bool
	receivedAt time.Time
}

func NewCorrector(p Policy) *Corrector {
	return &Corrector{policy: p}
}

// ObserveLatency folds one measured round trip into the one-way
// transit estimate (half-RTT).
func (c *Corrector) ObserveLatency(rtt time.Duration) {
	oneWay := rtt / 2
	if c.samples == 0 {
		c.oneWayLatency = oneWay
	} else {
		// EWMA, old estimate dominates.
		c.oneWayLatency = (c.oneWayLatency*3 + oneWay) / 4
	}
	c.samples++
}

// Report records the host's latest playback state.
func (c *Corrector) Report(position float64, isPlaying bool, at time.Time) {
	c.lastReport = &hostReport{position: position, isPlaying: isPlaying, receivedAt: at}
}

// Evaluate compares the local position against the host's projected
// position and returns the correction to apply.
func (c *Corrector) Evaluate(local float64, now time.Time) Action {
	if c.lastReport == nil {
		return Action{Kind: None}
	}

	host := c.lastReport.position
	if c.lastReport.isPlaying {
		// Project the host forward by elapsed time plus transit.
		host += now.Sub(c.lastReport.receivedAt).Seconds()
		host += c.oneWayLatency.Seconds()
	}

	d := host - local
	abs := d
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs > c.policy.LargeThreshold:
		c.adjusting = false
		return Action{Kind: HardSeek, SeekTo: host, DriftSec: d}
	case abs > c.policy.SmallThreshold:
		c.adjusting = true
		rate := c.policy.CatchUpRate
		if d < 0 {
			rate = c.policy.SlowDownRate
		}
		return Action{Kind: AdjustRate, Rate: rate, DriftSec: d}
	default:
		if c.adjusting {
			c.adjusting = false
			return Action{Kind: RestoreRate, Rate: 1.0, DriftSec: d}
		}
		return Action{Kind: None, DriftSec: d}
	}
}

// HostPlaying reports the playing flag of the last host report.
func (c *Corrector) HostPlaying() (playing, known bool) {
	if c.lastReport == nil {
		return false, false
	}
	return c.lastReport.isPlaying, true
}

// EventClock computes expected playback position for host-less event
// rooms: wall clock elapsed since the shared start time, independent of
// when this participant joined or last resumed.
type EventClock struct {
	clock core.ServerClock
	start time.Time
}

func NewEventClock(clock core.ServerClock, room *domain.Room) *EventClock {
	return &EventClock{clock: clock, start: room.StartTime}
}

// Expected is the position every participant should be at right now.
func (e *EventClock) Expected() float64 {
	d := e.clock.Now().Sub(e.start)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// Finished compares the elapsed wall clock against content duration.
// Never derived from "time since I personally resumed playback" — that
// falsely flags early/late joiners.
func (e *EventClock) Finished(duration float64) bool {
	return duration > 0 && e.Expected() >= duration
}
