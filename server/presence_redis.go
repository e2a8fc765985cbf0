package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceTTL bounds how long a room hash outlives its last join, so seats
// left behind by a crashed instance eventually expire.
const presenceTTL = 12 * time.Hour

// redisPresence shares presence across instances: one hash per board room
// (connID -> entry JSON) plus one hash mapping connID -> boardID.
type redisPresence struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func newRedisPresence(client *redis.Client) *redisPresence {
	return &redisPresence{client: client, prefix: "epitrello:presence:", now: time.Now}
}

func (p *redisPresence) roomKey(boardID int64) string {
	return p.prefix + "board:" + strconv.FormatInt(boardID, 10)
}

func (p *redisPresence) connKey() string { return p.prefix + "conns" }

func (p *redisPresence) seat(ctx context.Context, connID string) (int64, error) {
	v, err := p.client.HGet(ctx, p.connKey(), connID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("presence lookup: %w", err)
	}
	return v, nil
}

func (p *redisPresence) Join(ctx context.Context, boardID int64, connID string, u PresenceUser) (int64, error) {
	prev, err := p.seat(ctx, connID)
	if err != nil {
		return 0, err
	}
	if prev == boardID {
		return 0, nil
	}
	u.JoinedAt = p.now().UTC()
	raw, err := json.Marshal(PresenceEntry{BoardID: boardID, ConnID: connID, PresenceUser: u})
	if err != nil {
		return 0, fmt.Errorf("marshal presence: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != 0 {
			pipe.HDel(ctx, p.roomKey(prev), connID)
		}
		pipe.HSet(ctx, p.roomKey(boardID), connID, raw)
		pipe.Expire(ctx, p.roomKey(boardID), presenceTTL)
		pipe.HSet(ctx, p.connKey(), connID, boardID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("presence join: %w", err)
	}
	return prev, nil
}

func (p *redisPresence) Leave(ctx context.Context, connID string) (PresenceEntry, bool, error) {
	boardID, err := p.seat(ctx, connID)
	if err != nil || boardID == 0 {
		return PresenceEntry{}, false, err
	}
	raw, err := p.client.HGet(ctx, p.roomKey(boardID), connID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return PresenceEntry{}, false, fmt.Errorf("presence leave: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, p.roomKey(boardID), connID)
		pipe.HDel(ctx, p.connKey(), connID)
		return nil
	})
	if err != nil {
		return PresenceEntry{}, false, fmt.Errorf("presence leave: %w", err)
	}
	var e PresenceEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e); err != nil {
			return PresenceEntry{}, false, fmt.Errorf("decode presence: %w", err)
		}
	} else {
		e = PresenceEntry{BoardID: boardID, ConnID: connID}
	}
	return e, true, nil
}

func (p *redisPresence) ListActive(ctx context.Context, boardID int64) ([]PresenceUser, error) {
	all, err := p.client.HGetAll(ctx, p.roomKey(boardID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	entries := make([]PresenceEntry, 0, len(all))
	for _, raw := range all {
		var e PresenceEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return dedupePresence(entries), nil
}
