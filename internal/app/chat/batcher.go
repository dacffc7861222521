// Package chat coalesces bursty inbound chat into single UI updates
// and rate-limits emoji reactions.
package chat

import (
	"strings"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// SystemPrefix marks control strings that ride the chat channel but
// must never reach the visible log.
const SystemPrefix = "[system]"

const DefaultCap = 100

// Batcher buffers inbound chat between flush ticks. One UI append per
// window instead of one per message keeps bursty delivery from
// stuttering the render. Owned by the room session serializer; not
// safe for concurrent use.
type Batcher struct {
	pending  []core.ChatEntry
	retained []core.ChatEntry
	cap      int
	blocked  map[domain.ParticipantID]struct{}
}

func NewBatcher(retainCap int) *Batcher {
	if retainCap <= 0 {
		retainCap = DefaultCap
	}
	return &Batcher{
		cap:     retainCap,
		blocked: make(map[domain.ParticipantID]struct{}),
	}
}

func (b *Batcher) Block(id domain.ParticipantID)   { b.blocked[id] = struct{}{} }
func (b *Batcher) Unblock(id domain.ParticipantID) { delete(b.blocked, id) }

// Add filters and buffers one inbound message. It reports whether the
// message entered the buffer.
func (b *Batcher) Add(entry core.ChatEntry) bool {
	if _, ok := b.blocked[entry.Sender]; ok {
		return false
	}
	if strings.HasPrefix(entry.Text, SystemPrefix) {
		return false
	}
	b.pending = append(b.pending, entry)
	return true
}

// Flush returns everything accumulated since the last flush and folds
// it into the retained log, evicting oldest-first past the cap. An
// empty return means no UI update is due.
func (b *Batcher) Flush() []core.ChatEntry {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil

	b.retained = append(b.retained, batch...)
	if over := len(b.retained) - b.cap; over > 0 {
		b.retained = b.retained[over:]
	}
	return batch
}

// Retained is the capped visible history.
func (b *Batcher) Retained() []core.ChatEntry {
	out := make([]core.ChatEntry, len(b.retained))
	copy(out, b.retained)
	return out
}

func (b *Batcher) PendingCount() int { return len(b.pending) }

// Reset drops all buffered and retained messages, e.g. on room exit.
func (b *Batcher) Reset() {
	b.pending = nil
	b.retained = nil
}
