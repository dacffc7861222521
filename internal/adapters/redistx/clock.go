package redistx

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Clock estimates the offset between local time and the shared Redis
// server clock with one half-RTT measurement. Event rooms derive every
// participant's expected position from this shared time base.
type Clock struct {
	client *redis.Client

	mu     sync.RWMutex
	offset time.Duration
}

func NewClock(client *redis.Client) *Clock {
	return &Clock{client: client}
}

// Measure performs one blocking round trip. Safe to re-run; playback
// never waits on it after session start.
func (c *Clock) Measure(ctx context.Context) error {
	before := time.Now()
	serverTime, err := c.client.Time(ctx).Result()
	if err != nil {
		return err
	}
	rtt := time.Since(before)

	// The server stamped its reply roughly half a round trip ago.
	estimatedServer := serverTime.Add(rtt / 2)
	offset := estimatedServer.Sub(time.Now())
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()

	log.Debug().Str("module", "adapters.redistx").Dur("rtt", rtt).Dur("offset", offset).Msg("clock offset measured")
	return nil
}

// Now is local time corrected onto the shared clock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}
