// Package sim is a headless media engine: position advances with wall
// clock scaled by the playback rate. Used by dry runs and tests.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/avolkov/lockstep/internal/core"
)

type Engine struct {
	mu       sync.Mutex
	position float64
	duration float64
	rate     float64
	playing  bool
	url      string
	movedAt  time.Time
}

func New(duration float64) *Engine {
	return &Engine{duration: duration, rate: 1.0, movedAt: time.Now()}
}

// settle folds elapsed wall clock into the position.
func (e *Engine) settle() {
	now := time.Now()
	if e.playing {
		e.position += now.Sub(e.movedAt).Seconds() * e.rate
		if e.duration > 0 && e.position > e.duration {
			e.position = e.duration
			e.playing = false
		}
	}
	e.movedAt = now
}

func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	e.playing = true
	return nil
}

func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	e.playing = false
	return nil
}

func (e *Engine) Seek(ctx context.Context, position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	e.position = position
	return nil
}

func (e *Engine) SetRate(ctx context.Context, rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	e.rate = rate
	return nil
}

func (e *Engine) Load(ctx context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	e.url = url
	e.position = 0
	e.playing = false
	return nil
}

func (e *Engine) Status(ctx context.Context) (core.MediaStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle()
	return core.MediaStatus{
		Position:  e.position,
		Duration:  e.duration,
		IsPlaying: e.playing,
	}, nil
}
