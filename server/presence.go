package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PresenceUser is the public view of someone active on a board.
type PresenceUser struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// PresenceEntry is one connection's seat in a board room.
type PresenceEntry struct {
	BoardID int64  `json:"boardId"`
	ConnID  string `json:"connId"`
	PresenceUser
}

// Presence tracks which connections sit in which board room. A connection is
// in at most one room at a time.
type Presence interface {
	// Join seats the connection on boardID and returns the board it was
	// previously seated on, or 0.
	Join(ctx context.Context, boardID int64, connID string, u PresenceUser) (int64, error)
	// Leave removes the connection's seat and returns it.
	Leave(ctx context.Context, connID string) (PresenceEntry, bool, error)
	// ListActive returns one record per user, earliest join first.
	ListActive(ctx context.Context, boardID int64) ([]PresenceUser, error)
}

// memoryPresence is the single-instance tracker.
type memoryPresence struct {
	mu     sync.Mutex
	boards map[int64]map[string]PresenceEntry
	conns  map[string]int64
	now    func() time.Time
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{
		boards: map[int64]map[string]PresenceEntry{},
		conns:  map[string]int64{},
		now:    time.Now,
	}
}

func (p *memoryPresence) Join(_ context.Context, boardID int64, connID string, u PresenceUser) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.conns[connID]
	if prev != 0 {
		if prev == boardID {
			return 0, nil
		}
		p.removeLocked(prev, connID)
	}
	u.JoinedAt = p.now()
	if p.boards[boardID] == nil {
		p.boards[boardID] = map[string]PresenceEntry{}
	}
	p.boards[boardID][connID] = PresenceEntry{BoardID: boardID, ConnID: connID, PresenceUser: u}
	p.conns[connID] = boardID
	return prev, nil
}

func (p *memoryPresence) Leave(_ context.Context, connID string) (PresenceEntry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	boardID, ok := p.conns[connID]
	if !ok {
		return PresenceEntry{}, false, nil
	}
	e := p.boards[boardID][connID]
	p.removeLocked(boardID, connID)
	return e, true, nil
}

func (p *memoryPresence) removeLocked(boardID int64, connID string) {
	delete(p.conns, connID)
	if room, ok := p.boards[boardID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(p.boards, boardID)
		}
	}
}

func (p *memoryPresence) ListActive(_ context.Context, boardID int64) ([]PresenceUser, error) {
	p.mu.Lock()
	entries := make([]PresenceEntry, 0, len(p.boards[boardID]))
	for _, e := range p.boards[boardID] {
		entries = append(entries, e)
	}
	p.mu.Unlock()
	return dedupePresence(entries), nil
}

// dedupePresence keeps each user's earliest join and sorts by join time,
// then user ID.
func dedupePresence(entries []PresenceEntry) []PresenceUser {
	byUser := map[int64]PresenceUser{}
	for _, e := range entries {
		cur, ok := byUser[e.UserID]
		if !ok || e.JoinedAt.Before(cur.JoinedAt) {
			byUser[e.UserID] = e.PresenceUser
		}
	}
	out := make([]PresenceUser, 0, len(byUser))
	for _, u := range byUser {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func containsUser(users []PresenceUser, userID int64) bool {
	for _, u := range users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}
