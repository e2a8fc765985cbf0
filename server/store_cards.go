package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const cardCols = `c.id, c.list_id, c.title, c.description, c.position, c.labels, c.due_date, c.checklist, c.archived, c.created_at, c.updated_at`

func scanCard(row interface{ Scan(...any) error }, c *Card) error {
	var labels, checklist []byte
	var due sql.NullTime
	if err := row.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Position, &labels, &due, &checklist, &c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return err
	}
	if due.Valid {
		t := due.Time
		c.DueDate = &t
	}
	c.Labels = []Label{}
	c.Checklist = []ChecklistItem{}
	c.AssignedMembers = []int64{}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &c.Labels); err != nil {
			return fmt.Errorf("decode labels: %w", err)
		}
	}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &c.Checklist); err != nil {
			return fmt.Errorf("decode checklist: %w", err)
		}
	}
	return nil
}

func (s *Store) queryCards(ctx context.Context, q string, args ...any) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Card{}
	for rows.Next() {
		var c Card
		if err := scanCard(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, s.fillAssignees(ctx, out)
}

// fillAssignees loads assignments for all cards in one query.
func (s *Store) fillAssignees(ctx context.Context, cards []Card) error {
	if len(cards) == 0 {
		return nil
	}
	ids := make([]int64, len(cards))
	idx := make(map[int64]int, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
		idx[c.ID] = i
	}
	rows, err := s.db.QueryContext(ctx, `select card_id, user_id from card_assignees where card_id = any($1) order by card_id, user_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cardID, userID int64
		if err := rows.Scan(&cardID, &userID); err != nil {
			return err
		}
		i := idx[cardID]
		cards[i].AssignedMembers = append(cards[i].AssignedMembers, userID)
	}
	return rows.Err()
}

func (s *Store) CardsByList(ctx context.Context, listID int64) ([]Card, error) {
	return s.queryCards(ctx, `select `+cardCols+` from cards c where c.list_id=$1 order by c.position, c.id`, listID)
}

// CardsByBoard returns every card on the board grouped by list.
func (s *Store) CardsByBoard(ctx context.Context, boardID int64) (map[int64][]Card, error) {
	cards, err := s.queryCards(ctx, `select `+cardCols+` from cards c join lists l on l.id=c.list_id
		where l.board_id=$1 order by c.list_id, c.position, c.id`, boardID)
	if err != nil {
		return nil, err
	}
	out := map[int64][]Card{}
	for _, c := range cards {
		out[c.ListID] = append(out[c.ListID], c)
	}
	return out, nil
}

func (s *Store) GetCard(ctx context.Context, id int64) (Card, error) {
	cards, err := s.queryCards(ctx, `select `+cardCols+` from cards c where c.id=$1`, id)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		return Card{}, ErrNotFound
	}
	return cards[0], nil
}

// BoardIDByList resolves the owning board of a list.
func (s *Store) BoardIDByList(ctx context.Context, listID int64) (int64, error) {
	var bid int64
	err := s.db.QueryRowContext(ctx, `select board_id from lists where id=$1`, listID).Scan(&bid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return bid, err
}

// BoardAndListByCard resolves the board and list a card currently sits in.
func (s *Store) BoardAndListByCard(ctx context.Context, cardID int64) (int64, int64, error) {
	var bid, lid int64
	err := s.db.QueryRowContext(ctx, `select l.board_id, c.list_id from cards c join lists l on l.id=c.list_id where c.id=$1`, cardID).Scan(&bid, &lid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	return bid, lid, err
}

// CreateCard appends at the end of the list unless pos is given.
func (s *Store) CreateCard(ctx context.Context, listID int64, title, description string, pos *int64) (Card, error) {
	for attempt := 0; ; attempt++ {
		var c Card
		var err error
		if pos != nil {
			err = scanCard(s.db.QueryRowContext(ctx, `insert into cards as c(list_id, title, description, position) values($1,$2,$3,$4)
				returning `+cardCols, listID, title, description, *pos), &c)
		} else {
			err = scanCard(s.db.QueryRowContext(ctx, `insert into cards as c(list_id, title, description, position)
				select $1::bigint, $2::text, $3::text, coalesce(max(position),-1)+1 from cards where list_id=$1 and position >= 0
				returning `+cardCols, listID, title, description), &c)
		}
		if err == nil {
			return c, nil
		}
		if !isUniqueViolation(err, "cards_list_position_key") {
			return Card{}, fmt.Errorf("create card: %w", err)
		}
		if pos != nil || attempt+1 >= createRetries {
			return Card{}, ErrPositionConflict
		}
	}
}

// CardPatch carries optional field updates. ClearDue removes the due date.
type CardPatch struct {
	Title       *string
	Description *string
	Labels      *[]Label
	DueDate     *time.Time
	ClearDue    bool
	Checklist   *[]ChecklistItem
	Archived    *bool
}

func (s *Store) UpdateCard(ctx context.Context, id int64, p CardPatch) (Card, error) {
	var labels, checklist any
	if p.Labels != nil {
		b, err := json.Marshal(*p.Labels)
		if err != nil {
			return Card{}, err
		}
		labels = string(b)
	}
	if p.Checklist != nil {
		b, err := json.Marshal(*p.Checklist)
		if err != nil {
			return Card{}, err
		}
		checklist = string(b)
	}
	var due any
	if p.DueDate != nil {
		due = *p.DueDate
	}
	res, err := s.db.ExecContext(ctx, `update cards set
			title=coalesce($2, title),
			description=coalesce($3, description),
			labels=coalesce($4::jsonb, labels),
			due_date=case when $6 then null else coalesce($5::timestamptz, due_date) end,
			checklist=coalesce($7::jsonb, checklist),
			archived=coalesce($8, archived),
			updated_at=now()
		where id=$1`, id, p.Title, p.Description, labels, due, p.ClearDue, checklist, p.Archived)
	if err := mustAffect(res, err); err != nil {
		return Card{}, err
	}
	return s.GetCard(ctx, id)
}

func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	return mustAffect(s.db.ExecContext(ctx, `delete from cards where id=$1`, id))
}

// AssignCard is idempotent.
func (s *Store) AssignCard(ctx context.Context, cardID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `insert into card_assignees(card_id, user_id) values($1,$2) on conflict do nothing`, cardID, userID)
	return err
}

func (s *Store) UnassignCard(ctx context.Context, cardID, userID int64) error {
	return mustAffect(s.db.ExecContext(ctx, `delete from card_assignees where card_id=$1 and user_id=$2`, cardID, userID))
}

// --- Comments ---

func (s *Store) CommentsByCard(ctx context.Context, cardID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `select id, card_id, author_id, body, created_at from comments where card_id=$1 order by id`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		var c Comment
		var author sql.NullInt64
		if err := rows.Scan(&c.ID, &c.CardID, &author, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		if author.Valid {
			a := author.Int64
			c.AuthorID = &a
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddComment(ctx context.Context, cardID, authorID int64, body string) (Comment, error) {
	c := Comment{AuthorID: &authorID}
	err := s.db.QueryRowContext(ctx, `insert into comments(card_id, author_id, body) values($1,$2,$3) returning id, card_id, body, created_at`,
		cardID, authorID, body).Scan(&c.ID, &c.CardID, &c.Body, &c.CreatedAt)
	return c, err
}
