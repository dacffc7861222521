package domain

import "time"

// LobbyKind tags an ephemeral UI log entry.
type LobbyKind string

const (
	LobbyJoin  LobbyKind = "join"
	LobbyLeave LobbyKind = "leave"
	LobbyReady LobbyKind = "ready"
	LobbyVote  LobbyKind = "vote"
	LobbyKick  LobbyKind = "kick"
	LobbyInfo  LobbyKind = "info"
	LobbyError LobbyKind = "error"
)

// LobbyMessage is synthesized from sync/presence events for display.
// Never persisted, purely derived.
type LobbyMessage struct {
	Kind LobbyKind
	Who  ParticipantID
	Name string
	Text string
	At   time.Time
}

func NewLobbyMessage(kind LobbyKind, who ParticipantID, name, text string) LobbyMessage {
	return LobbyMessage{Kind: kind, Who: who, Name: name, Text: text, At: time.Now()}
}
