package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// ActivityLog is an append-only audit trail kept apart from the board
// documents. List calls return newest first; before is an entry ID from a
// previous page.
type ActivityLog interface {
	Append(ctx context.Context, e ActivityEntry) (ActivityEntry, error)
	ListByBoard(ctx context.Context, boardID int64, before string, limit int) ([]ActivityEntry, error)
	ListByCard(ctx context.Context, cardID int64, before string, limit int) ([]ActivityEntry, error)
	DeleteBoard(ctx context.Context, boardID int64) error
}

func clampActivityLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}

type postgresActivityLog struct {
	db *sql.DB
}

func newPostgresActivityLog(db *sql.DB) *postgresActivityLog { return &postgresActivityLog{db: db} }

func (l *postgresActivityLog) Append(ctx context.Context, e ActivityEntry) (ActivityEntry, error) {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("encode activity: %w", err)
	}
	var id int64
	err = l.db.QueryRowContext(ctx, `insert into activities(board_id, card_id, actor_id, action, data, board_visible)
		values($1,$2,$3,$4,$5::jsonb,$6) returning id, created_at`,
		e.BoardID, e.CardID, e.ActorID, e.Action, string(raw), e.BoardVisible).Scan(&id, &e.CreatedAt)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity: %w", err)
	}
	e.ID = strconv.FormatInt(id, 10)
	return e, nil
}

func (l *postgresActivityLog) ListByBoard(ctx context.Context, boardID int64, before string, limit int) ([]ActivityEntry, error) {
	return l.list(ctx, `board_id=$1 and board_visible`, boardID, before, limit)
}

func (l *postgresActivityLog) ListByCard(ctx context.Context, cardID int64, before string, limit int) ([]ActivityEntry, error) {
	return l.list(ctx, `card_id=$1`, cardID, before, limit)
}

func (l *postgresActivityLog) DeleteBoard(ctx context.Context, boardID int64) error {
	_, err := l.db.ExecContext(ctx, `delete from activities where board_id=$1`, boardID)
	return err
}

func (l *postgresActivityLog) list(ctx context.Context, where string, key int64, before string, limit int) ([]ActivityEntry, error) {
	var cursor *int64
	if before != "" {
		v, err := strconv.ParseInt(before, 10, 64)
		if err != nil || v <= 0 {
			return nil, validationError("invalid before cursor")
		}
		cursor = &v
	}
	rows, err := l.db.QueryContext(ctx, `select id, board_id, card_id, actor_id, action, data, board_visible, created_at
		from activities where `+where+` and ($2::bigint is null or id < $2) order by id desc limit $3`,
		key, cursor, clampActivityLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ActivityEntry{}
	for rows.Next() {
		var e ActivityEntry
		var id int64
		var cardID, actorID sql.NullInt64
		var raw []byte
		if err := rows.Scan(&id, &e.BoardID, &cardID, &actorID, &e.Action, &raw, &e.BoardVisible, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(id, 10)
		if cardID.Valid {
			v := cardID.Int64
			e.CardID = &v
		}
		if actorID.Valid {
			v := actorID.Int64
			e.ActorID = &v
		}
		if err := json.Unmarshal(raw, &e.Data); err != nil {
			return nil, fmt.Errorf("decode activity %d: %w", id, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
