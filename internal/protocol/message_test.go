package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/lockstep/internal/domain"
)

func TestDecode_WireFormat(t *testing.T) {
	raw := []byte(`{
		"type": "playbackState",
		"timestamp": 1756300000.25,
		"senderId": "Host-1",
		"position": 93.5,
		"isPlaying": true
	}`)

	m, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, TypePlaybackState, m.Type)
	assert.Equal(t, domain.ParticipantID("host-1"), m.Sender(), "sender id is normalized")

	p, err := m.Payload()
	require.NoError(t, err)
	state, ok := p.(PlaybackState)
	require.True(t, ok)
	assert.Equal(t, 93.5, state.Position)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, int64(1756300000), state.At.Unix())
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing type", `{"senderId": "a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestPayload_UnknownTypeIsError(t *testing.T) {
	m := &SyncMessage{Type: "teleport"}
	_, err := m.Payload()
	assert.Error(t, err)
}

func TestPayload_MissingOptionalsDefault(t *testing.T) {
	m, err := Decode([]byte(`{"type": "playbackState", "senderId": "a"}`))
	require.NoError(t, err)

	p, err := m.Payload()
	require.NoError(t, err)
	state := p.(PlaybackState)
	assert.Equal(t, 0.0, state.Position)
	assert.False(t, state.IsPlaying, "absent isPlaying is paused, not an error")
}

func TestStreamSelected_RoundTripsSelection(t *testing.T) {
	sel := domain.StreamSelection{
		InfoHash:    "abc123",
		FileIndex:   4,
		Quality:     "1080p",
		URL:         "http://cdn/x",
		SourceTitle: "Some.Release-GRP",
	}

	data, err := NewStreamSelected("host", sel).Encode()
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sel, m.Selection())
}

func TestStreamSelected_ZeroFileIndexSurvives(t *testing.T) {
	// Index 0 is a valid file; the pointer keeps it distinguishable from
	// an unset field after the omitempty round trip.
	data, err := NewStreamSelected("host", domain.StreamSelection{InfoHash: "abc", FileIndex: 0}).Encode()
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, m.FileIdx)
	assert.Equal(t, 0, *m.FileIdx)
}

func TestPremiumUntil(t *testing.T) {
	expiry := 1760000000.0
	m := &SyncMessage{Type: TypeChat, SubscriptionExpiresAt: &expiry}
	assert.Equal(t, int64(1760000000), m.PremiumUntil().Unix())

	bare := &SyncMessage{Type: TypeChat}
	assert.True(t, bare.PremiumUntil().IsZero())
}

func TestChatAndReactionShareTextField(t *testing.T) {
	chat, err := NewChat("alice", "Alice", "hello").Payload()
	require.NoError(t, err)
	assert.Equal(t, Chat{Text: "hello", Username: "Alice"}, chat)

	reaction, err := NewReaction("alice", "🔥").Payload()
	require.NoError(t, err)
	assert.Equal(t, Reaction{Text: "🔥"}, reaction)
}

func TestNewControl_CarriesTimestamp(t *testing.T) {
	before := time.Now()
	m := NewControl(TypePing, "alice")
	after := time.Now()

	assert.False(t, m.Time().Before(before.Add(-time.Second)))
	assert.False(t, m.Time().After(after.Add(time.Second)))
}
