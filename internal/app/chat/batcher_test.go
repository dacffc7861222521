package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/lockstep/internal/core"
)

func TestBatcher_BurstCoalescesIntoOneFlush(t *testing.T) {
	b := NewBatcher(DefaultCap)

	for i := 0; i < 5; i++ {
		require.True(t, b.Add(core.ChatEntry{Sender: "alice", Text: fmt.Sprintf("msg %d", i)}))
	}

	batch := b.Flush()
	assert.Len(t, batch, 5, "one flush carries the whole burst")
	assert.Nil(t, b.Flush(), "nothing pending after the flush")
}

func TestBatcher_EmptyFlushMeansNoUIUpdate(t *testing.T) {
	b := NewBatcher(DefaultCap)
	assert.Nil(t, b.Flush())
}

func TestBatcher_BlockedSenderFiltered(t *testing.T) {
	b := NewBatcher(DefaultCap)
	b.Block("troll")

	assert.False(t, b.Add(core.ChatEntry{Sender: "troll", Text: "spam"}))
	assert.True(t, b.Add(core.ChatEntry{Sender: "alice", Text: "hi"}))

	batch := b.Flush()
	require.Len(t, batch, 1)
	assert.Equal(t, "hi", batch[0].Text)
}

func TestBatcher_SystemPrefixedStringsFiltered(t *testing.T) {
	b := NewBatcher(DefaultCap)

	assert.False(t, b.Add(core.ChatEntry{Sender: "alice", Text: SystemPrefix + " internal control"}))
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_CapEvictsOldestFirst(t *testing.T) {
	b := NewBatcher(3)

	for i := 0; i < 5; i++ {
		b.Add(core.ChatEntry{Sender: "alice", Text: fmt.Sprintf("msg %d", i)})
	}
	b.Flush()

	retained := b.Retained()
	require.Len(t, retained, 3)
	assert.Equal(t, "msg 2", retained[0].Text)
	assert.Equal(t, "msg 4", retained[2].Text)
}

func TestBatcher_ResetDropsEverything(t *testing.T) {
	b := NewBatcher(DefaultCap)
	b.Add(core.ChatEntry{Sender: "alice", Text: "hello"})
	b.Flush()
	b.Add(core.ChatEntry{Sender: "alice", Text: "pending"})

	b.Reset()

	assert.Equal(t, 0, b.PendingCount())
	assert.Empty(t, b.Retained())
}
