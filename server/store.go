package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// openDB opens the pgx-backed pool and checks connectivity.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// isUniqueViolation reports a Postgres 23505, optionally limited to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Boards ---

const boardCols = `b.id, b.title, b.description, coalesce(b.background,''), b.owner_id, b.created_at, b.updated_at`

func scanBoard(row interface{ Scan(...any) error }, b *Board) error {
	return row.Scan(&b.ID, &b.Title, &b.Description, &b.Background, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
}

// BoardsForUser returns boards the user owns or is a member of, with the
// caller's role filled in.
func (s *Store) BoardsForUser(ctx context.Context, userID int64) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `select `+boardCols+`, case when b.owner_id=$1 then 'owner' else m.role end
		from boards b left join board_members m on m.board_id=b.id and m.user_id=$1
		where b.owner_id=$1 or m.user_id is not null
		order by b.created_at, b.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Board{}
	for rows.Next() {
		var b Board
		var role string
		if err := rows.Scan(&b.ID, &b.Title, &b.Description, &b.Background, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt, &role); err != nil {
			return nil, err
		}
		b.Role = Role(role)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreateBoard(ctx context.Context, ownerID int64, title, description, background string) (Board, error) {
	var b Board
	err := scanBoard(s.db.QueryRowContext(ctx, `insert into boards as b(title, description, background, owner_id) values($1,$2,nullif($3,''),$4)
		returning `+boardCols, title, description, background, ownerID), &b)
	return b, err
}

func (s *Store) GetBoard(ctx context.Context, id int64) (Board, error) {
	var b Board
	err := scanBoard(s.db.QueryRowContext(ctx, `select `+boardCols+` from boards b where b.id=$1`, id), &b)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBoard(ctx context.Context, id int64, title, description, background *string) (Board, error) {
	var b Board
	err := scanBoard(s.db.QueryRowContext(ctx, `update boards as b set
			title=coalesce($2, b.title),
			description=coalesce($3, b.description),
			background=coalesce($4, b.background),
			updated_at=now()
		where b.id=$1 returning `+boardCols, id, title, description, background), &b)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	return b, err
}

// DeleteBoard cascades to lists, cards, comments, members and Postgres activity rows.
func (s *Store) DeleteBoard(ctx context.Context, id int64) error {
	return mustAffect(s.db.ExecContext(ctx, `delete from boards where id=$1`, id))
}

// BoardAccess resolves the user's standing on a board; ErrNotFound if the board is gone.
func (s *Store) BoardAccess(ctx context.Context, boardID, userID int64) (Access, error) {
	var ownerID int64
	var role sql.NullString
	err := s.db.QueryRowContext(ctx, `select b.owner_id, m.role from boards b
		left join board_members m on m.board_id=b.id and m.user_id=$2 where b.id=$1`, boardID, userID).Scan(&ownerID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return Access{}, ErrNotFound
	}
	if err != nil {
		return Access{}, err
	}
	var members []Member
	if role.Valid {
		members = []Member{{BoardID: boardID, UserID: userID, Role: Role(role.String)}}
	}
	return resolveAccess(ownerID, members, userID), nil
}

// --- Members ---

func (s *Store) Members(ctx context.Context, boardID int64) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `select m.board_id, m.user_id, m.role, u.username, u.email, coalesce(u.avatar_url,''), m.added_at
		from board_members m join users u on u.id=m.user_id where m.board_id=$1 order by m.added_at, m.user_id`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Member{}
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.BoardID, &m.UserID, &role, &m.Username, &m.Email, &m.AvatarURL, &m.AddedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember stores a membership. The caller guarantees userID is not the owner.
func (s *Store) AddMember(ctx context.Context, boardID, userID int64, role Role) (Member, error) {
	_, err := s.db.ExecContext(ctx, `insert into board_members(board_id, user_id, role) values($1,$2,$3)`, boardID, userID, string(role))
	if isUniqueViolation(err, "") {
		return Member{}, validationError("user is already a member")
	}
	if err != nil {
		return Member{}, err
	}
	return s.member(ctx, boardID, userID)
}

func (s *Store) UpdateMemberRole(ctx context.Context, boardID, userID int64, role Role) (Member, error) {
	if err := mustAffect(s.db.ExecContext(ctx, `update board_members set role=$3 where board_id=$1 and user_id=$2`, boardID, userID, string(role))); err != nil {
		return Member{}, err
	}
	return s.member(ctx, boardID, userID)
}

// RemoveMember also drops the user's card assignments on the board.
func (s *Store) RemoveMember(ctx context.Context, boardID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := mustAffect(tx.ExecContext(ctx, `delete from board_members where board_id=$1 and user_id=$2`, boardID, userID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from card_assignees ca using cards c, lists l
		where ca.card_id=c.id and c.list_id=l.id and l.board_id=$1 and ca.user_id=$2`, boardID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) member(ctx context.Context, boardID, userID int64) (Member, error) {
	var m Member
	var role string
	err := s.db.QueryRowContext(ctx, `select m.board_id, m.user_id, m.role, u.username, u.email, coalesce(u.avatar_url,''), m.added_at
		from board_members m join users u on u.id=m.user_id where m.board_id=$1 and m.user_id=$2`, boardID, userID).
		Scan(&m.BoardID, &m.UserID, &role, &m.Username, &m.Email, &m.AvatarURL, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	m.Role = Role(role)
	return m, err
}

const schema = `
create table if not exists users(
	id bigserial primary key,
	email text unique not null,
	password_hash text not null default '',
	username text not null default '',
	avatar_url text,
	created_at timestamptz not null default now()
);

create table if not exists boards(
	id bigserial primary key,
	title text not null check (length(title) > 0),
	description text not null default '',
	background text,
	owner_id bigint not null references users(id) on delete cascade,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);
create index if not exists boards_owner_idx on boards(owner_id);

-- the owner is never stored here
create table if not exists board_members(
	board_id bigint not null references boards(id) on delete cascade,
	user_id bigint not null references users(id) on delete cascade,
	role text not null check (role in ('admin','member','viewer')),
	added_at timestamptz not null default now(),
	primary key(board_id, user_id)
);
create index if not exists board_members_user_idx on board_members(user_id);

create table if not exists lists(
	id bigserial primary key,
	board_id bigint not null references boards(id) on delete cascade,
	title text not null check (length(title) > 0),
	position bigint not null,
	archived boolean not null default false,
	created_at timestamptz not null default now(),
	constraint lists_board_position_key unique (board_id, position)
);

create table if not exists cards(
	id bigserial primary key,
	list_id bigint not null references lists(id) on delete cascade,
	title text not null check (length(title) > 0),
	description text not null default '',
	position bigint not null,
	labels jsonb not null default '[]',
	due_date timestamptz,
	checklist jsonb not null default '[]',
	archived boolean not null default false,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now(),
	constraint cards_list_position_key unique (list_id, position)
);

create table if not exists card_assignees(
	card_id bigint not null references cards(id) on delete cascade,
	user_id bigint not null references users(id) on delete cascade,
	primary key(card_id, user_id)
);

create table if not exists comments(
	id bigserial primary key,
	card_id bigint not null references cards(id) on delete cascade,
	author_id bigint references users(id) on delete set null,
	body text not null check (length(body) > 0),
	created_at timestamptz not null default now()
);
create index if not exists comments_card_idx on comments(card_id, id);

create table if not exists activities(
	id bigserial primary key,
	board_id bigint not null references boards(id) on delete cascade,
	card_id bigint,
	actor_id bigint references users(id) on delete set null,
	action text not null,
	data jsonb not null default '{}',
	board_visible boolean not null default true,
	created_at timestamptz not null default now()
);
create index if not exists activities_board_idx on activities(board_id, id desc) where board_visible;
create index if not exists activities_card_idx on activities(card_id, id desc);

create table if not exists notifications(
	id bigserial primary key,
	user_id bigint not null references users(id) on delete cascade,
	kind text not null,
	data jsonb not null default '{}',
	read_at timestamptz,
	created_at timestamptz not null default now()
);
create index if not exists notifications_user_idx on notifications(user_id, id desc);
`
