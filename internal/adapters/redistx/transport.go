// Package redistx implements the room transport over Redis pub/sub:
// one channel per room for sync traffic, one for presence changes, and
// a connection hash for connectivity queries.
package redistx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
	"github.com/avolkov/lockstep/internal/protocol"
)

// Redis key patterns:
// lockstep:room:{room_id}:sync      CHANNEL  - SyncMessage traffic
// lockstep:room:{room_id}:presence  CHANNEL  - join/leave notifications
// lockstep:room:{room_id}:conns     HASH     - token -> metadata JSON

func syncChannel(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:room:%s:sync", id)
}

func presenceChannel(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:room:%s:presence", id)
}

func connsKey(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:room:%s:conns", id)
}

type presenceWire struct {
	Kind  string            `json:"kind"` // "join" | "leave"
	Token string            `json:"token"`
	Meta  core.PresenceMeta `json:"meta"`
}

type roomSub struct {
	sync     *redis.PubSub
	presence *redis.PubSub
	cancel   context.CancelFunc
}

type Transport struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[domain.RoomID]*roomSub
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) (*Transport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Transport{
		client: client,
		subs:   make(map[domain.RoomID]*roomSub),
	}, nil
}

func (t *Transport) Publish(ctx context.Context, room domain.RoomID, msg *protocol.SyncMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode sync message: %w", err)
	}
	return t.client.Publish(ctx, syncChannel(room), data).Err()
}

func (t *Transport) Subscribe(ctx context.Context, room domain.RoomID, onMessage core.MessageHandler, onPresence core.PresenceHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[room]; ok {
		return fmt.Errorf("already subscribed to room %s", room)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &roomSub{
		sync:     t.client.Subscribe(subCtx, syncChannel(room)),
		presence: t.client.Subscribe(subCtx, presenceChannel(room)),
		cancel:   cancel,
	}
	t.subs[room] = sub

	go t.pumpSync(subCtx, sub.sync, onMessage)
	go t.pumpPresence(subCtx, sub.presence, onPresence)
	return nil
}

func (t *Transport) pumpSync(ctx context.Context, sub *redis.PubSub, handle core.MessageHandler) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m, err := protocol.Decode([]byte(msg.Payload))
			if err != nil {
				log.Warn().Str("module", "adapters.redistx").Err(err).Msg("drop undecodable sync message")
				continue
			}
			handle(m)
		}
	}
}

func (t *Transport) pumpPresence(ctx context.Context, sub *redis.PubSub, handle core.PresenceHandler) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var w presenceWire
			if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
				log.Warn().Str("module", "adapters.redistx").Err(err).Msg("drop undecodable presence event")
				continue
			}
			kind := core.PresenceJoin
			if w.Kind == "leave" {
				kind = core.PresenceLeave
			}
			handle(core.PresenceEvent{Kind: kind, Token: domain.ConnToken(w.Token), Meta: w.Meta})
		}
	}
}

func (t *Transport) Unsubscribe(ctx context.Context, room domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[room]
	if !ok {
		return nil
	}
	sub.cancel()
	if err := sub.sync.Close(); err != nil {
		return err
	}
	if err := sub.presence.Close(); err != nil {
		return err
	}
	delete(t.subs, room)
	return nil
}

func (t *Transport) Connectivity(ctx context.Context, room domain.RoomID) (map[domain.ConnToken]core.PresenceMeta, error) {
	raw, err := t.client.HGetAll(ctx, connsKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("read room connections: %w", err)
	}
	out := make(map[domain.ConnToken]core.PresenceMeta, len(raw))
	for token, metaJSON := range raw {
		var meta core.PresenceMeta
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			// A token without readable metadata still counts as a
			// connection; the token doubles as the identity.
			log.Warn().Str("module", "adapters.redistx").Str("token", token).Msg("connection with unreadable metadata")
		}
		out[domain.ConnToken(token)] = meta
	}
	return out, nil
}

func (t *Transport) Announce(ctx context.Context, room domain.RoomID, token domain.ConnToken, meta core.PresenceMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal presence meta: %w", err)
	}
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, connsKey(room), string(token), metaJSON)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	return t.publishPresence(ctx, room, presenceWire{Kind: "join", Token: string(token), Meta: meta})
}

func (t *Transport) Release(ctx context.Context, room domain.RoomID, token domain.ConnToken) error {
	if err := t.client.HDel(ctx, connsKey(room), string(token)).Err(); err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	return t.publishPresence(ctx, room, presenceWire{Kind: "leave", Token: string(token)})
}

func (t *Transport) publishPresence(ctx context.Context, room domain.RoomID, w presenceWire) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, presenceChannel(room), data).Err()
}

// Client exposes the underlying connection for sibling adapters.
func (t *Transport) Client() *redis.Client { return t.client }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for room, sub := range t.subs {
		sub.cancel()
		sub.sync.Close()
		sub.presence.Close()
		delete(t.subs, room)
	}
	return t.client.Close()
}
