package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, ParticipantID("alice"), NormalizeID("  Alice "))
	assert.Equal(t, ParticipantID("alice"), NormalizeID("ALICE"))
}

func TestParticipant_TokenLifecycle(t *testing.T) {
	p := NewParticipant("alice", "Alice", "t1")
	p.AddToken("t2")

	assert.False(t, p.DropToken("t1"), "one connection remains")
	assert.True(t, p.DropToken("t2"), "identity is gone with the last token")
}

func TestParticipant_PremiumExpiryWinsOverHint(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		p    Participant
		want bool
	}{
		{"future expiry", Participant{PremiumUntil: now.Add(time.Hour)}, true},
		{"past expiry overrides stale hint", Participant{PremiumUntil: now.Add(-time.Hour), PremiumHint: true}, false},
		{"no expiry falls back to hint", Participant{PremiumHint: true}, true},
		{"nothing set", Participant{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Premium(now))
		})
	}
}

func TestStreamSelection_Matches(t *testing.T) {
	a := StreamSelection{InfoHash: "aaa", FileIndex: 1, SourceTitle: "release-a"}

	assert.True(t, a.Matches(StreamSelection{InfoHash: "aaa", FileIndex: 1, SourceTitle: "renamed"}),
		"hashes agree, titles irrelevant")
	assert.False(t, a.Matches(StreamSelection{InfoHash: "aaa", FileIndex: 2}))
	assert.True(t, a.Matches(StreamSelection{SourceTitle: "release-a"}),
		"title fallback when a hash is missing")
	assert.False(t, a.Matches(StreamSelection{SourceTitle: "release-b"}))
}

func TestRoom_AdvancePlaylist(t *testing.T) {
	r := NewRoom("r", "host")
	r.Playlist = []MediaItem{{Title: "e1"}, {Title: "e2"}}

	assert.True(t, r.AdvancePlaylist())
	assert.Equal(t, "e2", r.CurrentItem().Title)
	assert.False(t, r.AdvancePlaylist(), "end of playlist without loop")

	r.Loop = true
	assert.True(t, r.AdvancePlaylist())
	assert.Equal(t, "e1", r.CurrentItem().Title, "loop wraps to the start")
}

func TestRoomID_IsEvent(t *testing.T) {
	assert.True(t, RoomID("event:premiere").IsEvent())
	assert.False(t, RoomID("living-room").IsEvent())
}
