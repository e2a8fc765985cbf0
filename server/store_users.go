package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmailTaken = errors.New("email already registered")

const userCols = `id, email, username, coalesce(avatar_url,''), created_at`

func scanUser(row interface{ Scan(...any) error }, u *User) error {
	return row.Scan(&u.ID, &u.Email, &u.Username, &u.AvatarURL, &u.CreatedAt)
}

func (s *Store) CreateUser(ctx context.Context, email, password, username string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	var u User
	err = scanUser(s.db.QueryRowContext(ctx, `insert into users(email, password_hash, username) values($1,$2,$3)
		returning `+userCols, strings.ToLower(email), string(hash), username), &u)
	if isUniqueViolation(err, "") {
		return User{}, ErrEmailTaken
	}
	return u, err
}

// Authenticate returns ErrUnauthenticated for unknown emails and wrong
// passwords alike.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx, `select `+userCols+`, password_hash from users where email=$1`, strings.ToLower(email)).
		Scan(&u.ID, &u.Email, &u.Username, &u.AvatarURL, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUnauthenticated
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`, id), &u)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := scanUser(s.db.QueryRowContext(ctx, `select `+userCols+` from users where email=$1`, strings.ToLower(email)), &u)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) UpdateUser(ctx context.Context, id int64, username, avatarURL *string) (User, error) {
	var u User
	err := scanUser(s.db.QueryRowContext(ctx, `update users set
			username=coalesce($2, username),
			avatar_url=coalesce($3, avatar_url)
		where id=$1 returning `+userCols, id, username, avatarURL), &u)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// --- Notifications ---

func (s *Store) CreateNotification(ctx context.Context, userID int64, kind string, data map[string]any) (Notification, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{UserID: userID, Kind: kind, Data: data}
	err = s.db.QueryRowContext(ctx, `insert into notifications(user_id, kind, data) values($1,$2,$3::jsonb) returning id, created_at`,
		userID, kind, string(raw)).Scan(&n.ID, &n.CreatedAt)
	return n, err
}

func (s *Store) Notifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `select id, user_id, kind, data, read_at, created_at from notifications
		where user_id=$1 and (not $2 or read_at is null) order by id desc limit $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var n Notification
		var raw []byte
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &raw, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if err := json.Unmarshal(raw, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification %d: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead only touches the caller's own notifications.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	return mustAffect(s.db.ExecContext(ctx, `update notifications set read_at=coalesce(read_at, now()) where id=$1 and user_id=$2`, id, userID))
}
