// Package redistore is the durable room/participant registry on Redis.
// Every write is an upsert: duplicate-key outcomes are success by
// construction, which is exactly the idempotency the room engine
// requires.
package redistore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avolkov/lockstep/internal/core"
	"github.com/avolkov/lockstep/internal/domain"
)

// Redis key patterns:
// lockstep:roomrow:{room_id}               HASH  - room row fields
// lockstep:roomrow:{room_id}:participants  SET   - registered identities
// lockstep:roomrow:{room_id}:names         HASH  - identity -> display name

func roomKey(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:roomrow:%s", id)
}

func participantsKey(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:roomrow:%s:participants", id)
}

func namesKey(id domain.RoomID) string {
	return fmt.Sprintf("lockstep:roomrow:%s:names", id)
}

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) UpsertRoom(ctx context.Context, row core.RoomRow) error {
	fields := map[string]interface{}{
		"title":        row.Title,
		"source_title": row.SourceTitle,
		"info_hash":    row.InfoHash,
	}
	// A writer without a host identity must never blank an existing
	// registration.
	if row.HostID != "" {
		fields["host_id"] = string(row.HostID)
	}
	if !row.StartTime.IsZero() {
		fields["start_time"] = strconv.FormatInt(row.StartTime.Unix(), 10)
	}
	if err := s.client.HSet(ctx, roomKey(row.ID), fields).Err(); err != nil {
		return fmt.Errorf("upsert room %s: %w", row.ID, err)
	}
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, room domain.RoomID, id domain.ParticipantID, name string) error {
	pipe := s.client.TxPipeline()
	// SADD of an existing member is a no-op, not an error.
	pipe.SAdd(ctx, participantsKey(room), string(id))
	pipe.HSet(ctx, namesKey(room), string(id), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert participant %s: %w", id, err)
	}
	return nil
}

func (s *Store) ReadRoom(ctx context.Context, id domain.RoomID) (core.RoomRow, error) {
	pipe := s.client.TxPipeline()
	rowCmd := pipe.HGetAll(ctx, roomKey(id))
	countCmd := pipe.SCard(ctx, participantsKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return core.RoomRow{}, fmt.Errorf("read room %s: %w", id, err)
	}

	raw := rowCmd.Val()
	row := core.RoomRow{
		ID:               id,
		HostID:           domain.ParticipantID(raw["host_id"]),
		Title:            raw["title"],
		SourceTitle:      raw["source_title"],
		InfoHash:         raw["info_hash"],
		ParticipantCount: int(countCmd.Val()),
	}
	if ts, ok := raw["start_time"]; ok {
		if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
			row.StartTime = time.Unix(sec, 0)
		}
	}
	return row, nil
}
