package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

func join(token, userID, username string) core.PresenceEvent {
	return core.PresenceEvent{
		Kind:  core.PresenceJoin,
		Token: domain.ConnToken(token),
		Meta:  core.PresenceMeta{UserID: userID, Username: username},
	}
}

func leave(token string) core.PresenceEvent {
	return core.PresenceEvent{Kind: core.PresenceLeave, Token: domain.ConnToken(token)}
}

func TestResolver_DistinctIdentities(t *testing.T) {
	tests := []struct {
		name      string
		events    []core.PresenceEvent
		wantCount int
	}{
		{
			name:      "single identity single token",
			events:    []core.PresenceEvent{join("t1", "alice", "Alice")},
			wantCount: 1,
		},
		{
			name: "same identity two tokens counts once",
			events: []core.PresenceEvent{
				join("t1", "alice", "Alice"),
				join("t2", "alice", "Alice"),
			},
			wantCount: 1,
		},
		{
			name: "identity case is normalized",
			events: []core.PresenceEvent{
				join("t1", "Alice", "Alice"),
				join("t2", "ALICE", "Alice"),
				join("t3", "alice", "Alice"),
			},
			wantCount: 1,
		},
		{
			name: "one token leaving keeps the identity",
			events: []core.PresenceEvent{
				join("t1", "alice", "Alice"),
				join("t2", "alice", "Alice"),
				leave("t1"),
			},
			wantCount: 1,
		},
		{
			name: "last token leaving removes the identity",
			events: []core.PresenceEvent{
				join("t1", "alice", "Alice"),
				join("t2", "alice", "Alice"),
				leave("t1"),
				leave("t2"),
			},
			wantCount: 0,
		},
		{
			name: "token without metadata falls back to the token id",
			events: []core.PresenceEvent{
				{Kind: core.PresenceJoin, Token: "raw-token"},
			},
			wantCount: 1,
		},
		{
			name: "interleaved identities",
			events: []core.PresenceEvent{
				join("a1", "alice", "Alice"),
				join("b1", "bob", "Bob"),
				join("a2", "alice", "Alice"),
				leave("b1"),
				leave("a1"),
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver()
			for _, ev := range tt.events {
				r.Apply(ev)
			}
			assert.Equal(t, tt.wantCount, r.Count())
		})
	}
}

func TestResolver_SecondTabIsRefreshNotJoin(t *testing.T) {
	r := NewResolver()

	p, ch := r.Apply(join("t1", "alice", "Alice"))
	require.Equal(t, Joined, ch)
	require.NotNil(t, p)

	p2, ch2 := r.Apply(join("t2", "alice", "Alicia"))
	assert.Equal(t, Refreshed, ch2)
	assert.Same(t, p, p2)
	assert.Equal(t, "Alicia", p.Name, "metadata refresh updates the display name")
	assert.Len(t, p.Tokens, 2)
}

func TestResolver_NoLeaveWhileTokensRemain(t *testing.T) {
	r := NewResolver()
	r.Apply(join("t1", "alice", "Alice"))
	r.Apply(join("t2", "alice", "Alice"))

	_, ch := r.Apply(leave("t1"))
	assert.Equal(t, NoChange, ch, "closing one tab must not announce a leave")

	p, ch := r.Apply(leave("t2"))
	assert.Equal(t, Left, ch)
	assert.Equal(t, domain.ParticipantID("alice"), p.ID)
}

func TestResolver_UnknownTokenLeaveIsNoop(t *testing.T) {
	r := NewResolver()
	_, ch := r.Apply(leave("never-seen"))
	assert.Equal(t, NoChange, ch)
}

func TestResolver_AnnounceDedupeClearsOnLeave(t *testing.T) {
	r := NewResolver()
	r.Apply(join("t1", "alice", "Alice"))

	assert.True(t, r.ShouldAnnounce("alice"))
	assert.False(t, r.ShouldAnnounce("alice"), "second toast for the same stay is suppressed")

	r.Apply(leave("t1"))
	r.Apply(join("t2", "alice", "Alice"))
	assert.True(t, r.ShouldAnnounce("alice"), "a genuine re-join announces again")
}

func TestResolver_Replay(t *testing.T) {
	r := NewResolver()
	conns := map[domain.ConnToken]core.PresenceMeta{
		"t1": {UserID: "alice", Username: "Alice"},
		"t2": {UserID: "alice", Username: "Alice"},
		"t3": {UserID: "bob", Username: "Bob"},
	}

	joined := r.Replay(conns)

	assert.Len(t, joined, 2, "replay yields one join per distinct identity")
	assert.Equal(t, 2, r.Count())
}

func TestResolver_Reconcile(t *testing.T) {
	r := NewResolver()
	r.Apply(join("a1", "alice", "Alice"))
	r.Apply(join("b1", "bob", "Bob"))

	// After the outage: bob is gone, carol appeared, alice unchanged.
	joined, left := r.Reconcile(map[domain.ConnToken]core.PresenceMeta{
		"a1": {UserID: "alice", Username: "Alice"},
		"c1": {UserID: "carol", Username: "Carol"},
	})

	require.Len(t, joined, 1)
	assert.Equal(t, domain.ParticipantID("carol"), joined[0].ID)
	require.Len(t, left, 1)
	assert.Equal(t, domain.ParticipantID("bob"), left[0].ID)
	assert.Equal(t, 2, r.Count())
}

func TestResolver_PremiumDerivedFromExpiry(t *testing.T) {
	r := NewResolver()
	p, _ := r.Apply(core.PresenceEvent{
		Kind:  core.PresenceJoin,
		Token: "t1",
		Meta: core.PresenceMeta{
			UserID:    "alice",
			IsPremium: true, // stale advisory flag
			// Expired a while ago.
			SubscriptionExpiresAt: 1000,
		},
	})

	assert.False(t, p.Premium(time.Now()), "expiry timestamp wins over the advisory boolean")
}

func TestResolver_ValidateDetectsEmptyTokenSet(t *testing.T) {
	r := NewResolver()
	p, _ := r.Apply(join("t1", "alice", "Alice"))
	require.NoError(t, r.Validate())

	// Corrupt the roster the way a partial teardown would.
	delete(p.Tokens, "t1")
	assert.ErrorIs(t, r.Validate(), domain.ErrNoTokens)
}
