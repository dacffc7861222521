package drift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/lockstep/internal/domain"
)

func TestCorrector_Thresholds(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		host     float64
		local    float64
		wantKind ActionKind
	}{
		{"within tolerance", 100, 100.5, None},
		{"moderate lag adjusts rate", 100, 95, AdjustRate},
		{"moderate lead adjusts rate", 100, 104, AdjustRate},
		{"large lag hard seeks", 100, 80, HardSeek},
		{"large lead hard seeks", 100, 130, HardSeek},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCorrector(DefaultPolicy())
			// Paused host report: no forward projection, the comparison
			// is exactly host vs local.
			c.Report(tt.host, false, now)

			action := c.Evaluate(tt.local, now)

			assert.Equal(t, tt.wantKind, action.Kind)
			if tt.wantKind == HardSeek {
				assert.InDelta(t, tt.host, action.SeekTo, 0.01, "hard seek targets the host position")
			}
		})
	}
}

func TestCorrector_ModerateDriftNeverSeeks(t *testing.T) {
	now := time.Now()
	c := NewCorrector(DefaultPolicy())
	c.Report(100, false, now)

	action := c.Evaluate(95, now)

	require.Equal(t, AdjustRate, action.Kind)
	assert.Equal(t, 1.25, action.Rate, "behind the host means catching up")
}

func TestCorrector_RateRestoredWhenDriftCollapses(t *testing.T) {
	now := time.Now()
	c := NewCorrector(DefaultPolicy())
	c.Report(100, false, now)

	require.Equal(t, AdjustRate, c.Evaluate(95, now).Kind)

	// Drift collapsed below the small threshold: restore 1.0 once.
	action := c.Evaluate(99.5, now)
	require.Equal(t, RestoreRate, action.Kind)
	assert.Equal(t, 1.0, action.Rate)

	assert.Equal(t, None, c.Evaluate(99.5, now).Kind, "restore fires only once")
}

func TestCorrector_AheadOfHostSlowsDown(t *testing.T) {
	now := time.Now()
	c := NewCorrector(DefaultPolicy())
	c.Report(100, false, now)

	action := c.Evaluate(104, now)

	require.Equal(t, AdjustRate, action.Kind)
	assert.Equal(t, 0.75, action.Rate)
}

func TestCorrector_ProjectsPlayingHostForward(t *testing.T) {
	start := time.Now()
	c := NewCorrector(DefaultPolicy())
	c.Report(100, true, start)

	// Five seconds later a guest at 105 has zero drift against a
	// playing host reported at 100.
	action := c.Evaluate(105, start.Add(5*time.Second))

	assert.Equal(t, None, action.Kind)
	assert.InDelta(t, 0, action.DriftSec, 0.1)
}

func TestCorrector_NoReportNoAction(t *testing.T) {
	c := NewCorrector(DefaultPolicy())
	assert.Equal(t, None, c.Evaluate(42, time.Now()).Kind)
}

func TestCorrector_LatencyHalvesRTT(t *testing.T) {
	now := time.Now()
	c := NewCorrector(DefaultPolicy())
	c.ObserveLatency(2 * time.Second)
	c.Report(100, true, now)

	// One-way transit of 1s shifts the projected host position.
	action := c.Evaluate(100, now)
	assert.InDelta(t, 1.0, action.DriftSec, 0.05)
}

type fixedClock struct {
	at time.Time
}

func (f fixedClock) Measure(context.Context) error { return nil }

func (f fixedClock) Now() time.Time { return f.at }

func TestEventClock_IndependentJoinersConverge(t *testing.T) {
	start := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	room := domain.NewRoom("event:premiere", "")
	room.StartTime = start

	// Two participants joined ten minutes apart; both evaluate at the
	// same shared-clock instant without referencing each other.
	now := start.Add(25 * time.Minute)
	early := NewEventClock(fixedClock{at: now}, room)
	late := NewEventClock(fixedClock{at: now}, room)

	require.InDelta(t, early.Expected(), late.Expected(), 0.001)
	assert.InDelta(t, (25 * time.Minute).Seconds(), early.Expected(), 0.001)
}

func TestEventClock_BeforeStartIsZero(t *testing.T) {
	start := time.Now().Add(time.Hour)
	room := domain.NewRoom("event:soon", "")
	room.StartTime = start

	e := NewEventClock(fixedClock{at: time.Now()}, room)
	assert.Equal(t, 0.0, e.Expected())
}

func TestEventClock_FinishedUsesWallClockBaseline(t *testing.T) {
	start := time.Now().Add(-2 * time.Hour)
	room := domain.NewRoom("event:over", "")
	room.StartTime = start

	e := NewEventClock(fixedClock{at: time.Now()}, room)

	assert.True(t, e.Finished(3600), "content shorter than elapsed wall clock is over")
	assert.False(t, e.Finished(3*3600), "late joiner of a longer event is not flagged done")
	assert.False(t, e.Finished(0), "unknown duration never reports finished")
}
