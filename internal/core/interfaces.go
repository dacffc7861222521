// Package core declares the collaborator interfaces the room engine
// consumes. Adapters own the resources behind them.
package core

import (
	"context"
	"time"

	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

// PresenceKind distinguishes transport-level join and leave signals.
type PresenceKind int

const (
	PresenceJoin PresenceKind = iota
	PresenceLeave
)

// PresenceMeta is the application-level metadata a transport may attach
// to a join. All fields are optional; the raw token is the fallback id.
type PresenceMeta struct {
	UserID                string  `json:"user_id,omitempty"`
	Username              string  `json:"username,omitempty"`
	IsPremium             bool    `json:"is_premium,omitempty"`
	SubscriptionExpiresAt float64 `json:"subscription_expires_at,omitempty"`
}

// PresenceEvent is one transport-level connectivity change.
type PresenceEvent struct {
	Kind  PresenceKind
	Token domain.ConnToken
	Meta  PresenceMeta
}

type (
	MessageHandler  func(*protocol.SyncMessage)
	PresenceHandler func(PresenceEvent)
)

// Transport is the multi-tenant pub/sub channel. Delivery is unreliable:
// messages may be dropped, duplicated, or echoed back to the sender.
type Transport interface {
	Publish(ctx context.Context, room domain.RoomID, msg *protocol.SyncMessage) error

	// Subscribe wires future events. Callers must follow up with
	// Connectivity to replay presence that predates the subscription.
	Subscribe(ctx context.Context, room domain.RoomID, onMessage MessageHandler, onPresence PresenceHandler) error
	Unsubscribe(ctx context.Context, room domain.RoomID) error

	// Connectivity reports who is currently connected, keyed by token.
	Connectivity(ctx context.Context, room domain.RoomID) (map[domain.ConnToken]PresenceMeta, error)

	// Announce registers/releases our own connection token.
	Announce(ctx context.Context, room domain.RoomID, token domain.ConnToken, meta PresenceMeta) error
	Release(ctx context.Context, room domain.RoomID, token domain.ConnToken) error
}

// RoomRow is the durable store's view of a room.
type RoomRow struct {
	ID               domain.RoomID
	HostID           domain.ParticipantID
	Title            string
	SourceTitle      string
	InfoHash         string
	ParticipantCount int
	StartTime        time.Time
}

// Store is the durable room/participant registry. Upserts are tolerant
// of duplicate keys: inserting an existing row is success.
type Store interface {
	UpsertRoom(ctx context.Context, row RoomRow) error
	UpsertParticipant(ctx context.Context, room domain.RoomID, id domain.ParticipantID, name string) error
	ReadRoom(ctx context.Context, id domain.RoomID) (RoomRow, error)
}

// MediaStatus is a point-in-time snapshot of the local player.
type MediaStatus struct {
	Position  float64
	Duration  float64
	IsPlaying bool
	Buffering bool
}

// MediaEngine is the local decode/render player. Observing Status never
// blocks the room serializer.
type MediaEngine interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	SetRate(ctx context.Context, rate float64) error
	Load(ctx context.Context, url string) error
	Status(ctx context.Context) (MediaStatus, error)
}

// ServerClock measures the offset between local and shared time via one
// half-RTT estimate. Offset() is cheap after Measure has run.
type ServerClock interface {
	Measure(ctx context.Context) error
	Now() time.Time
}

// StreamCandidate is one resolvable release for the selected media.
type StreamCandidate struct {
	InfoHash    string
	FileIndex   int
	Quality     string
	SourceTitle string

	// Deprioritized candidates (non-preferred language, down-ranked
	// releases) are tried only after every preferred one fails.
	Deprioritized bool
}

// StreamResolver turns a candidate into a playable URL.
type StreamResolver interface {
	Candidates(ctx context.Context, media domain.MediaItem) ([]StreamCandidate, error)
	Unlock(ctx context.Context, c StreamCandidate) (url string, err error)
}

// ChatEntry is one visible chat line after filtering.
type ChatEntry struct {
	Sender   domain.ParticipantID
	Username string
	Text     string
	At       time.Time
}

// UISink receives derived state for the rendering layer. Calls arrive
// from the room serializer goroutine.
type UISink interface {
	AppendChat(batch []ChatEntry)
	ShowReaction(sender domain.ParticipantID, text string, announcement bool)
	Lobby(msg domain.LobbyMessage)
	PhaseChanged(phase domain.Phase)

	// Exited reports the successor context after leaving a room; the
	// user is never left without an assigned screen.
	Exited(reason string)
}
