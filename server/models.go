package main

import "time"

type Board struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Background  string    `json:"background,omitempty"`
	OwnerID     int64     `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	// Role is the caller's effective role, filled in on listings
	Role Role `json:"role,omitempty"`
}

// Member is a non-owner participant of a board. The owner is never stored here.
type Member struct {
	BoardID   int64     `json:"boardId"`
	UserID    int64     `json:"userId"`
	Role      Role      `json:"role"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

type List struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"boardId"`
	Title     string    `json:"title"`
	Position  int64     `json:"position"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type Card struct {
	ID              int64           `json:"id"`
	ListID          int64           `json:"listId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Position        int64           `json:"position"`
	Labels          []Label         `json:"labels"`
	DueDate         *time.Time      `json:"dueDate,omitempty"`
	Checklist       []ChecklistItem `json:"checklist"`
	AssignedMembers []int64         `json:"assignedMembers"`
	Archived        bool            `json:"archived"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Comment struct {
	ID        int64     `json:"id"`
	CardID    int64     `json:"cardId"`
	AuthorID  *int64    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityEntry is immutable once appended. ActorID is nil for system actions.
type ActivityEntry struct {
	ID           string         `json:"id"`
	BoardID      int64          `json:"boardId"`
	CardID       *int64         `json:"cardId,omitempty"`
	ActorID      *int64         `json:"actorId"`
	Action       string         `json:"action"`
	Data         map[string]any `json:"data,omitempty"`
	BoardVisible bool           `json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"userId"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
