// Package protocol defines the SyncMessage wire envelope shared by all
// room coordination traffic, and its decoded per-type payloads.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/avolkov/lockstep/internal/domain"
)

type Type string

const (
	TypePing             Type = "ping"
	TypePong             Type = "pong"
	TypePlaybackState    Type = "playbackState"
	TypeSeek             Type = "seek"
	TypePause            Type = "pause"
	TypePlay             Type = "play"
	TypeChat             Type = "chat"
	TypeStreamSelected   Type = "streamSelected"
	TypeRequestStream    Type = "requestStream"
	TypePreload          Type = "preload"
	TypeReady            Type = "ready"
	TypeReturnToLobby    Type = "returnToLobby"
	TypeRoomClosed       Type = "roomClosed"
	TypeReaction         Type = "reaction"
	TypeHostAnnouncement Type = "hostAnnouncement"
)

// SyncMessage is the flat JSON envelope on the wire. Constructed once,
// sent once, never mutated; receivers treat it as immutable evidence.
type SyncMessage struct {
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp"`
	SenderID  string  `json:"senderId"`

	Position  *float64 `json:"position,omitempty"`
	IsPlaying *bool    `json:"isPlaying,omitempty"`

	ChatText     string `json:"chatText,omitempty"`
	ChatUsername string `json:"chatUsername,omitempty"`

	InfoHash    string `json:"infoHash,omitempty"`
	FileIdx     *int   `json:"fileIdx,omitempty"`
	Quality     string `json:"quality,omitempty"`
	UnlockedURL string `json:"unlockedURL,omitempty"`
	SourceTitle string `json:"sourceTitle,omitempty"`

	// IsPremium is advisory only; SubscriptionExpiresAt is authoritative.
	IsPremium             *bool    `json:"isPremium,omitempty"`
	SubscriptionExpiresAt *float64 `json:"subscriptionExpiresAt,omitempty"`
}

func Decode(data []byte) (*SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("sync message without type")
	}
	return &m, nil
}

func (m *SyncMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func (m *SyncMessage) Sender() domain.ParticipantID {
	return domain.NormalizeID(m.SenderID)
}

// PremiumUntil extracts the authoritative premium expiry, or zero time
// when the sender did not report one.
func (m *SyncMessage) PremiumUntil() time.Time {
	if m.SubscriptionExpiresAt == nil {
		return time.Time{}
	}
	sec := int64(*m.SubscriptionExpiresAt)
	nsec := int64((*m.SubscriptionExpiresAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Payload is the closed set of decoded message bodies. Each variant
// carries only the fields meaningful for its type.
type Payload interface {
	kind() Type
}

type (
	Ping struct{}
	Pong struct{}

	PlaybackState struct {
		Position  float64
		IsPlaying bool
		At        time.Time
	}

	Seek struct{ Position float64 }

	Play  struct{ Position float64 }
	Pause struct{ Position float64 }

	Chat struct {
		Text     string
		Username string
	}

	StreamSelected struct{ Selection domain.StreamSelection }

	RequestStream struct{}
	Preload       struct{}
	Ready         struct{}
	ReturnToLobby struct{}
	RoomClosed    struct{}

	Reaction struct{ Text string }

	HostAnnouncement struct{ Text string }
)

func (Ping) kind() Type             { return TypePing }
func (Pong) kind() Type             { return TypePong }
func (PlaybackState) kind() Type    { return TypePlaybackState }
func (Seek) kind() Type             { return TypeSeek }
func (Play) kind() Type             { return TypePlay }
func (Pause) kind() Type            { return TypePause }
func (Chat) kind() Type             { return TypeChat }
func (StreamSelected) kind() Type   { return TypeStreamSelected }
func (RequestStream) kind() Type    { return TypeRequestStream }
func (Preload) kind() Type          { return TypePreload }
func (Ready) kind() Type            { return TypeReady }
func (ReturnToLobby) kind() Type    { return TypeReturnToLobby }
func (RoomClosed) kind() Type       { return TypeRoomClosed }
func (Reaction) kind() Type         { return TypeReaction }
func (HostAnnouncement) kind() Type { return TypeHostAnnouncement }

func (m *SyncMessage) position() float64 {
	if m.Position == nil {
		return 0
	}
	return *m.Position
}

// Payload converts the flat envelope into its tagged variant.
func (m *SyncMessage) Payload() (Payload, error) {
	switch m.Type {
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypePlaybackState:
		playing := m.IsPlaying != nil && *m.IsPlaying
		return PlaybackState{Position: m.position(), IsPlaying: playing, At: m.Time()}, nil
	case TypeSeek:
		return Seek{Position: m.position()}, nil
	case TypePlay:
		return Play{Position: m.position()}, nil
	case TypePause:
		return Pause{Position: m.position()}, nil
	case TypeChat:
		return Chat{Text: m.ChatText, Username: m.ChatUsername}, nil
	case TypeStreamSelected:
		return StreamSelected{Selection: m.Selection()}, nil
	case TypeRequestStream:
		return RequestStream{}, nil
	case TypePreload:
		return Preload{}, nil
	case TypeReady:
		return Ready{}, nil
	case TypeReturnToLobby:
		return ReturnToLobby{}, nil
	case TypeRoomClosed:
		return RoomClosed{}, nil
	case TypeReaction:
		return Reaction{Text: m.ChatText}, nil
	case TypeHostAnnouncement:
		return HostAnnouncement{Text: m.ChatText}, nil
	default:
		return nil, fmt.Errorf("unknown sync message type %q", m.Type)
	}
}

func (m *SyncMessage) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Selection assembles the stream descriptor fields of the envelope.
func (m *SyncMessage) Selection() domain.StreamSelection {
	idx := 0
	if m.FileIdx != nil {
		idx = *m.FileIdx
	}
	return domain.StreamSelection{
		InfoHash:    m.InfoHash,
		FileIndex:   idx,
		Quality:     m.Quality,
		URL:         m.UnlockedURL,
		SourceTitle: m.SourceTitle,
	}
}

func newEnvelope(t Type, sender domain.ParticipantID) *SyncMessage {
	return &SyncMessage{
		Type:      t,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		SenderID:  string(sender),
	}
}

func NewPlaybackState(sender domain.ParticipantID, pos float64, playing bool) *SyncMessage {
	m := newEnvelope(TypePlaybackState, sender)
	m.Position = &pos
	m.IsPlaying = &playing
	return m
}

func NewSeek(sender domain.ParticipantID, pos float64) *SyncMessage {
	m := newEnvelope(TypeSeek, sender)
	m.Position = &pos
	return m
}

func NewPlay(sender domain.ParticipantID, pos float64) *SyncMessage {
	m := newEnvelope(TypePlay, sender)
	m.Position = &pos
	return m
}

func NewPause(sender domain.ParticipantID, pos float64) *SyncMessage {
	m := newEnvelope(TypePause, sender)
	m.Position = &pos
	return m
}

func NewChat(sender domain.ParticipantID, username, text string) *SyncMessage {
	m := newEnvelope(TypeChat, sender)
	m.ChatUsername = username
	m.ChatText = text
	return m
}

func NewStreamSelected(sender domain.ParticipantID, sel domain.StreamSelection) *SyncMessage {
	m := newEnvelope(TypeStreamSelected, sender)
	m.InfoHash = sel.InfoHash
	idx := sel.FileIndex
	m.FileIdx = &idx
	m.Quality = sel.Quality
	m.UnlockedURL = sel.URL
	m.SourceTitle = sel.SourceTitle
	return m
}

func NewReaction(sender domain.ParticipantID, text string) *SyncMessage {
	m := newEnvelope(TypeReaction, sender)
	m.ChatText = text
	return m
}

func NewHostAnnouncement(sender domain.ParticipantID, text string) *SyncMessage {
	m := newEnvelope(TypeHostAnnouncement, sender)
	m.ChatText = text
	return m
}

func NewControl(t Type, sender domain.ParticipantID) *SyncMessage {
	return newEnvelope(t, sender)
}
