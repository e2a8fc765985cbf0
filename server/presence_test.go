package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock hands out strictly increasing times one second apart.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testPresence(t *testing.T, newPresence func(now func() time.Time) Presence) {
	ctx := context.Background()
	alice := PresenceUser{UserID: 1, Username: "alice"}
	bob := PresenceUser{UserID: 2, Username: "bob"}

	t.Run("dedupes by user keeping earliest join", func(t *testing.T) {
		clock := newTestClock()
		p := newPresence(clock.now)
		_, err := p.Join(ctx, 7, "a1", alice)
		require.NoError(t, err)
		_, err = p.Join(ctx, 7, "b1", bob)
		require.NoError(t, err)
		_, err = p.Join(ctx, 7, "a2", alice)
		require.NoError(t, err)

		users, err := p.ListActive(ctx, 7)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, int64(1), users[0].UserID)
		assert.Equal(t, int64(2), users[1].UserID)
		assert.True(t, users[0].JoinedAt.Before(users[1].JoinedAt))

		_, ok, err := p.Leave(ctx, "a1")
		require.NoError(t, err)
		require.True(t, ok)
		users, err = p.ListActive(ctx, 7)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, int64(2), users[0].UserID, "alice's remaining seat joined after bob")
	})

	t.Run("connection sits in one room", func(t *testing.T) {
		p := newPresence(newTestClock().now)
		prev, err := p.Join(ctx, 7, "c", alice)
		require.NoError(t, err)
		assert.Zero(t, prev)

		prev, err = p.Join(ctx, 8, "c", alice)
		require.NoError(t, err)
		assert.Equal(t, int64(7), prev)

		users, err := p.ListActive(ctx, 7)
		require.NoError(t, err)
		assert.Empty(t, users)
		users, err = p.ListActive(ctx, 8)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("rejoining the same room is a no-op", func(t *testing.T) {
		p := newPresence(newTestClock().now)
		_, err := p.Join(ctx, 7, "c", alice)
		require.NoError(t, err)
		first, err := p.ListActive(ctx, 7)
		require.NoError(t, err)

		prev, err := p.Join(ctx, 7, "c", alice)
		require.NoError(t, err)
		assert.Zero(t, prev)
		again, err := p.ListActive(ctx, 7)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.True(t, first[0].JoinedAt.Equal(again[0].JoinedAt))
	})

	t.Run("leave returns the seat", func(t *testing.T) {
		p := newPresence(newTestClock().now)
		_, err := p.Join(ctx, 9, "c", bob)
		require.NoError(t, err)

		e, ok, err := p.Leave(ctx, "c")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(9), e.BoardID)
		assert.Equal(t, "c", e.ConnID)
		assert.Equal(t, int64(2), e.UserID)

		_, ok, err = p.Leave(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryPresence(t *testing.T) {
	testPresence(t, func(now func() time.Time) Presence {
		p := newMemoryPresence()
		p.now = now
		return p
	})
}

func TestDedupePresenceTieBreak(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	users := dedupePresence([]PresenceEntry{
		{ConnID: "x", PresenceUser: PresenceUser{UserID: 5, JoinedAt: at}},
		{ConnID: "y", PresenceUser: PresenceUser{UserID: 3, JoinedAt: at}},
	})
	require.Len(t, users, 2)
	assert.Equal(t, int64(3), users[0].UserID)
	assert.True(t, containsUser(users, 5))
	assert.False(t, containsUser(users, 4))
}
