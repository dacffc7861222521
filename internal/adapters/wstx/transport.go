// Package wstx implements the room transport against a WebSocket relay
// that fans every frame out to all subscribers of a room.
package wstx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

var ErrBackpressure = errors.New("send buffer full")

const (
	writeWait      = 5 * time.Second
	rosterWait     = 5 * time.Second
	reconnectDelay = 2 * time.Second
)

// wireFrame is the relay envelope. The relay routes by room and kind
// and never inspects the payloads.
type wireFrame struct {
	Kind  string                       `json:"kind"` // sync|presence|announce|release|who|roster
	Room  string                       `json:"room"`
	Sync  *protocol.SyncMessage        `json:"sync,omitempty"`
	Token string                       `json:"token,omitempty"`
	Join  bool                         `json:"join,omitempty"`
	Meta  *core.PresenceMeta           `json:"meta,omitempty"`
	Conns map[string]core.PresenceMeta `json:"conns,omitempty"`
}

type Transport struct {
	url        string
	pingPeriod time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan []byte
	onMessage  core.MessageHandler
	onPresence core.PresenceHandler
	room       domain.RoomID
	rosterCh   chan map[string]core.PresenceMeta
	closed     bool

	// OnReconnect is invoked after a successful re-dial so the session
	// can re-derive presence and room state it missed.
	OnReconnect func()
}

func New(url string, pingPeriod time.Duration) *Transport {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Transport{
		url:        url,
		pingPeriod: pingPeriod,
		rosterCh:   make(chan map[string]core.PresenceMeta, 1),
	}
}

func (t *Transport) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", t.url, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.send = make(chan []byte, 64)
	t.mu.Unlock()

	go t.writePump(ctx, conn, t.send)
	go t.readPump(ctx, conn)
	return nil
}

func (t *Transport) writePump(ctx context.Context, conn *websocket.Conn, send chan []byte) {
	ping := time.NewTicker(t.pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Warn().Str("module", "adapters.wstx").Err(err).Msg("set write deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Str("module", "adapters.wstx").Err(err).Msg("write")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		t.maybeReconnect(ctx)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Warn().Str("module", "adapters.wstx").Err(err).Msg("read")
				return
			}
			t.handleFrame(data)
		}
	}
}

func (t *Transport) handleFrame(data []byte) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Str("module", "adapters.wstx").Err(err).Msg("drop undecodable frame")
		return
	}

	t.mu.Lock()
	onMessage, onPresence := t.onMessage, t.onPresence
	room := t.room
	t.mu.Unlock()

	if domain.RoomID(f.Room) != room {
		return
	}

	switch f.Kind {
	case "sync":
		if f.Sync != nil && onMessage != nil {
			onMessage(f.Sync)
		}
	case "presence":
		if onPresence == nil {
			return
		}
		kind := core.PresenceLeave
		if f.Join {
			kind = core.PresenceJoin
		}
		ev := core.PresenceEvent{Kind: kind, Token: domain.ConnToken(f.Token)}
		if f.Meta != nil {
			ev.Meta = *f.Meta
		}
		onPresence(ev)
	case "roster":
		select {
		case t.rosterCh <- f.Conns:
		default:
		}
	}
}

// maybeReconnect re-dials after an unexpected drop and tells the owner
// to resync, since events during the outage are permanently gone.
func (t *Transport) maybeReconnect(ctx context.Context) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || ctx.Err() != nil {
		return
	}

	for ctx.Err() == nil {
		time.Sleep(reconnectDelay)
		if err := t.dial(ctx); err != nil {
			log.Warn().Str("module", "adapters.wstx").Err(err).Msg("reconnect failed")
			continue
		}
		log.Info().Str("module", "adapters.wstx").Msg("reconnected to relay")
		if t.OnReconnect != nil {
			t.OnReconnect()
		}
		return
	}
}

func (t *Transport) enqueue(f wireFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()
	if send == nil {
		return errors.New("not connected")
	}
	select {
	case send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *Transport) Publish(ctx context.Context, room domain.RoomID, msg *protocol.SyncMessage) error {
	return t.enqueue(wireFrame{Kind: "sync", Room: string(room), Sync: msg})
}

func (t *Transport) Subscribe(ctx context.Context, room domain.RoomID, onMessage core.MessageHandler, onPresence core.PresenceHandler) error {
	t.mu.Lock()
	t.room = room
	t.onMessage = onMessage
	t.onPresence = onPresence
	already := t.conn != nil
	t.mu.Unlock()
	if already {
		return nil
	}
	return t.dial(ctx)
}

func (t *Transport) Unsubscribe(ctx context.Context, room domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.onMessage = nil
	t.onPresence = nil
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// Connectivity asks the relay for the current roster and waits for the
// reply frame.
func (t *Transport) Connectivity(ctx context.Context, room domain.RoomID) (map[domain.ConnToken]core.PresenceMeta, error) {
	if err := t.enqueue(wireFrame{Kind: "who", Room: string(room)}); err != nil {
		return nil, err
	}
	select {
	case conns := <-t.rosterCh:
		out := make(map[domain.ConnToken]core.PresenceMeta, len(conns))
		for token, meta := range conns {
			out[domain.ConnToken(token)] = meta
		}
		return out, nil
	case <-time.After(rosterWait):
		return nil, errors.New("roster query timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) Announce(ctx context.Context, room domain.RoomID, token domain.ConnToken, meta core.PresenceMeta) error {
	return t.enqueue(wireFrame{Kind: "announce", Room: string(room), Token: string(token), Join: true, Meta: &meta})
}

func (t *Transport) Release(ctx context.Context, room domain.RoomID, token domain.ConnToken) error {
	return t.enqueue(wireFrame{Kind: "release", Room: string(room), Token: string(token)})
}
