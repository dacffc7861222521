package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeNow lets tests step time deterministically.
type fakeNow struct {
	at time.Time
}

func (f *fakeNow) advance(d time.Duration) { f.at = f.at.Add(d) }

func newTestLimiter() (*ReactionLimiter, *fakeNow) {
	clock := &fakeNow{at: time.Unix(1_700_000_000, 0)}
	rl := NewReactionLimiter(150*time.Millisecond, 2*time.Second, 5)
	rl.now = func() time.Time { return clock.at }
	return rl, clock
}

func TestReactionLimiter_BurstCap(t *testing.T) {
	rl, clock := newTestLimiter()

	accepted := 0
	// Six requests inside one second, well spaced above the min gap.
	for i := 0; i < 6; i++ {
		if rl.Allow("alice") {
			accepted++
		}
		clock.advance(160 * time.Millisecond)
	}

	assert.Equal(t, 5, accepted, "at most five emissions per trailing window")
}

func TestReactionLimiter_MinimumGap(t *testing.T) {
	rl, clock := newTestLimiter()

	assert.True(t, rl.Allow("alice"))
	clock.advance(100 * time.Millisecond)
	assert.False(t, rl.Allow("alice"), "inside the 150ms gap")
	clock.advance(60 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestReactionLimiter_WindowSlides(t *testing.T) {
	rl, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("alice"))
		clock.advance(200 * time.Millisecond)
	}
	assert.False(t, rl.Allow("alice"), "window saturated")

	clock.advance(2 * time.Second)
	assert.True(t, rl.Allow("alice"), "window slid past the burst")
}

func TestReactionLimiter_SendersIndependent(t *testing.T) {
	rl, _ := newTestLimiter()

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per sender")
}

func TestReactionLimiter_ForgetResets(t *testing.T) {
	rl, clock := newTestLimiter()

	assert.True(t, rl.Allow("alice"))
	clock.advance(10 * time.Millisecond)
	assert.False(t, rl.Allow("alice"))

	rl.Forget("alice")
	assert.True(t, rl.Allow("alice"))
}
