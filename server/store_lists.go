package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const listCols = `id, board_id, title, position, archived, created_at`

func scanList(row interface{ Scan(...any) error }, l *List) error {
	return row.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position, &l.Archived, &l.CreatedAt)
}

func (s *Store) ListsByBoard(ctx context.Context, boardID int64) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `select `+listCols+` from lists where board_id=$1 order by position, id`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []List{}
	for rows.Next() {
		var l List
		if err := scanList(rows, &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetList(ctx context.Context, id int64) (List, error) {
	var l List
	err := scanList(s.db.QueryRowContext(ctx, `select `+listCols+` from lists where id=$1`, id), &l)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, ErrNotFound
	}
	return l, err
}

// createRetries bounds how often an append races another append for the same slot.
const createRetries = 3

// CreateList appends at the end of the board unless pos is given. A clash on an
// explicit position is a conflict; a clash on a computed one is retried.
func (s *Store) CreateList(ctx context.Context, boardID int64, title string, pos *int64) (List, error) {
	for attempt := 0; ; attempt++ {
		var l List
		var err error
		if pos != nil {
			err = scanList(s.db.QueryRowContext(ctx, `insert into lists(board_id, title, position) values($1,$2,$3)
				returning `+listCols, boardID, title, *pos), &l)
		} else {
			err = scanList(s.db.QueryRowContext(ctx, `insert into lists(board_id, title, position)
				select $1::bigint, $2::text, coalesce(max(position),-1)+1 from lists where board_id=$1 and position >= 0
				returning `+listCols, boardID, title), &l)
		}
		if err == nil {
			return l, nil
		}
		if !isUniqueViolation(err, "lists_board_position_key") {
			return List{}, fmt.Errorf("create list: %w", err)
		}
		if pos != nil || attempt+1 >= createRetries {
			return List{}, ErrPositionConflict
		}
	}
}

func (s *Store) UpdateList(ctx context.Context, id int64, title *string, archived *bool) (List, error) {
	var l List
	err := scanList(s.db.QueryRowContext(ctx, `update lists set
			title=coalesce($2, title),
			archived=coalesce($3, archived)
		where id=$1 returning `+listCols, id, title, archived), &l)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, ErrNotFound
	}
	return l, err
}

// DeleteList cascades to the list's cards. Remaining siblings keep their gap
// until the next reorder.
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	return mustAffect(s.db.ExecContext(ctx, `delete from lists where id=$1`, id))
}
