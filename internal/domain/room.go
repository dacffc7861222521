package domain

import (
	"strings"
	"time"
)

type RoomID string

// EventRoomPrefix marks scheduled host-less broadcasts. Such rooms
// synchronize against a shared wall-clock start time instead of a peer.
const EventRoomPrefix = "event:"

func (id RoomID) IsEvent() bool {
	return strings.HasPrefix(string(id), EventRoomPrefix)
}

// Phase is the room lifecycle. Ended is terminal.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
	PhaseEnded   Phase = "ended"
)

// MediaItem identifies what the room is watching.
type MediaItem struct {
	Title   string
	Season  int
	Episode int
}

// Room is one watch session. Owned by a single room session serializer;
// everyone else reads snapshots.
type Room struct {
	ID     RoomID
	HostID ParticipantID
	Media  MediaItem
	Stream StreamSelection
	Phase  Phase

	Participants map[ParticipantID]*Participant

	// ReportedCount comes from the durable store and is a display hint
	// only. Correctness always uses the reconciled Participants set.
	ReportedCount int

	Playlist      []MediaItem
	PlaylistIndex int

	// StartTime drives event rooms: expected position is wall clock
	// elapsed since this instant.
	StartTime time.Time

	CreatedAt    time.Time
	LastActiveAt time.Time
	Persistent   bool
	Loop         bool
}

func NewRoom(id RoomID, host ParticipantID) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		HostID:       host,
		Phase:        PhaseLobby,
		Participants: make(map[ParticipantID]*Participant),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// DistinctCount is the number of identities with at least one open
// connection. Never derived from raw join/leave event counts.
func (r *Room) DistinctCount() int {
	return len(r.Participants)
}

func (r *Room) IsHost(id ParticipantID) bool {
	return r.HostID != "" && r.HostID == id
}

// CurrentItem returns the playlist cursor target, or the room media
// when no playlist is set.
func (r *Room) CurrentItem() MediaItem {
	if len(r.Playlist) > 0 && r.PlaylistIndex >= 0 && r.PlaylistIndex < len(r.Playlist) {
		return r.Playlist[r.PlaylistIndex]
	}
	return r.Media
}

// AdvancePlaylist moves the cursor forward, wrapping when Loop is set.
// It reports whether another item is available.
func (r *Room) AdvancePlaylist() bool {
	if len(r.Playlist) == 0 {
		return false
	}
	if r.PlaylistIndex+1 < len(r.Playlist) {
		r.PlaylistIndex++
		return true
	}
	if r.Loop {
		r.PlaylistIndex = 0
		return true
	}
	return false
}

func (r *Room) Touch() {
	r.LastActiveAt = time.Now()
}
