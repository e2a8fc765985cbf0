package main

import (
	"context"
	"errors"
	"maps"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDoc struct {
	parent int64
	pos    int64
}

// memPositions applies each batch in a random order and enforces the
// (parent, position) unique index on every single write.
type memPositions struct {
	mu     sync.Mutex
	docs   map[int64]memDoc
	rng    *rand.Rand
	failOn func(w positionWrite) error
}

func newMemPositions(seed int64, docs map[int64]memDoc) *memPositions {
	return &memPositions{docs: docs, rng: rand.New(rand.NewSource(seed))}
}

func (m *memPositions) writePositions(_ context.Context, _ siblingKind, writes []positionWrite) []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := make([]error, len(writes))
	for _, i := range m.rng.Perm(len(writes)) {
		errs[i] = m.applyLocked(writes[i])
	}
	return errs
}

func (m *memPositions) applyLocked(w positionWrite) error {
	if m.failOn != nil {
		if err := m.failOn(w); err != nil {
			return err
		}
	}
	d, ok := m.docs[w.ID]
	if !ok || (!w.Reparent && d.parent != w.Parent) {
		return errMissing
	}
	for id, o := range m.docs {
		if id != w.ID && o.parent == w.Parent && o.pos == w.Position {
			return ErrPositionConflict
		}
	}
	m.docs[w.ID] = memDoc{parent: w.Parent, pos: w.Position}
	return nil
}

func (m *memPositions) inPositionTx(ctx context.Context, fn func(tx positionStore) error) error {
	m.mu.Lock()
	snapshot := maps.Clone(m.docs)
	m.mu.Unlock()
	if err := fn(m); err != nil {
		m.mu.Lock()
		m.docs = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memPositions) order(parent int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPos := map[int64]int64{}
	for id, d := range m.docs {
		if d.parent == parent {
			byPos[d.pos] = id
		}
	}
	out := make([]int64, 0, len(byPos))
	for p := int64(0); p < int64(len(byPos)); p++ {
		id, ok := byPos[p]
		if !ok {
			return nil
		}
		out = append(out, id)
	}
	return out
}

func TestReorderListsAssignsDenseRanks(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		ps := newMemPositions(seed, map[int64]memDoc{1: {1, 0}, 2: {1, 1}, 3: {1, 2}})
		plan, err := planListReorder(1, []int64{3, 1, 2})
		require.NoError(t, err)

		res, err := newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
		require.NoError(t, err)
		assert.Empty(t, res.Skipped)
		assert.Equal(t, []int64{3, 1, 2}, ps.order(1), "seed %d", seed)
	}
}

func TestReorderIdentityLeavesPositions(t *testing.T) {
	docs := map[int64]memDoc{1: {1, 0}, 2: {1, 1}, 3: {1, 2}}
	ps := newMemPositions(7, maps.Clone(docs))
	plan, err := planListReorder(1, []int64{1, 2, 3})
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, docs, ps.docs)
}

func TestMoveCardAcrossLists(t *testing.T) {
	const listA, listB = 10, 20
	const c, x, y, z, w = 1, 2, 3, 4, 5
	for seed := int64(0); seed < 25; seed++ {
		ps := newMemPositions(seed, map[int64]memDoc{
			c: {listA, 0}, x: {listA, 1}, y: {listA, 2},
			z: {listB, 0}, w: {listB, 1},
		})
		plan, err := planCardMove(c, listA, listB, 1, []int64{c, x, y}, []int64{z, w})
		require.NoError(t, err)

		_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
		require.NoError(t, err)
		assert.Equal(t, []int64{x, y}, ps.order(listA), "seed %d", seed)
		assert.Equal(t, []int64{z, c, w}, ps.order(listB), "seed %d", seed)
	}
}

func TestMoveCardWithinList(t *testing.T) {
	ps := newMemPositions(3, map[int64]memDoc{1: {5, 0}, 2: {5, 1}, 3: {5, 2}})
	plan, err := planCardMove(3, 5, 5, 0, []int64{1, 2, 3}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ps.order(5))
}

func TestMoveCardClampsPosition(t *testing.T) {
	ps := newMemPositions(1, map[int64]memDoc{1: {5, 0}, 2: {6, 0}})
	plan, err := planCardMove(1, 5, 6, 99, []int64{1}, []int64{2})
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ps.order(6))
	assert.Empty(t, ps.order(5))
}

func TestReorderSkipsStaleIDs(t *testing.T) {
	ps := newMemPositions(11, map[int64]memDoc{
		1: {1, 0}, 2: {1, 1},
		3: {2, 0}, // moved to another board since the client fetched
	})
	plan, err := planListReorder(1, []int64{2, 99, 3, 1})
	require.NoError(t, err)

	res, err := newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{99, 3}, res.Skipped)
	assert.Equal(t, []int64{2, 1}, ps.order(1))
	assert.Equal(t, memDoc{2, 0}, ps.docs[3])
}

func TestReorderUntrackedSiblingConflicts(t *testing.T) {
	ps := newMemPositions(5, map[int64]memDoc{1: {1, 0}, 2: {1, 1}, 3: {1, 2}})
	plan, err := planListReorder(1, []int64{3, 1})
	require.NoError(t, err)

	var hits []siblingKind
	r := newReindexer(ps, reindexStaged, time.Second, nil)
	r.onConflict = func(k siblingKind) { hits = append(hits, k) }
	_, err = r.apply(context.Background(), plan)
	require.ErrorIs(t, err, ErrPositionConflict)
	assert.Equal(t, []siblingKind{siblingLists}, hits)
	assert.Equal(t, "position_conflict", toAPIError(err).Code)
}

func TestReorderTxRollsBackOnConflict(t *testing.T) {
	docs := map[int64]memDoc{1: {1, 0}, 2: {1, 1}, 3: {1, 2}}
	ps := newMemPositions(5, maps.Clone(docs))
	plan, err := planListReorder(1, []int64{3, 1})
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexTx, time.Second, nil).apply(context.Background(), plan)
	require.ErrorIs(t, err, ErrPositionConflict)
	assert.Equal(t, docs, ps.docs)
}

func TestMoveMissingCardConflicts(t *testing.T) {
	ps := newMemPositions(2, map[int64]memDoc{2: {5, 0}})
	plan, err := planCardMove(1, 5, 5, 0, []int64{1, 2}, nil)
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.ErrorIs(t, err, ErrPositionConflict)
}

func TestReorderStoreErrorIsNotConflict(t *testing.T) {
	boom := errors.New("connection reset")
	ps := newMemPositions(4, map[int64]memDoc{1: {1, 0}, 2: {1, 1}})
	ps.failOn = func(w positionWrite) error {
		if w.ID == 2 {
			return boom
		}
		return nil
	}
	plan, err := planListReorder(1, []int64{2, 1})
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPositionConflict)
	assert.Equal(t, 500, toAPIError(err).Status)
}

func TestStageWritesUseOneCounter(t *testing.T) {
	plan, err := planCardMove(1, 10, 20, 0, []int64{1, 2, 3}, []int64{4, 5})
	require.NoError(t, err)

	writes := stageWrites(plan)
	require.Len(t, writes, 5)
	assert.Equal(t, positionWrite{ID: 1, Parent: 20, Position: -1, Reparent: true}, writes[0])
	seen := map[int64]bool{}
	for _, w := range writes {
		assert.Negative(t, w.Position)
		assert.False(t, seen[w.Position], "position %d reused", w.Position)
		seen[w.Position] = true
	}
}

func TestPlanValidation(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
	}{
		{"duplicate list ids", func() error { _, err := planListReorder(1, []int64{4, 5, 4}); return err }},
		{"zero list id", func() error { _, err := planListReorder(1, []int64{0}); return err }},
		{"negative position", func() error { _, err := planCardMove(1, 2, 2, -1, nil, nil); return err }},
		{"duplicate target ids", func() error { _, err := planCardMove(1, 2, 3, 0, nil, []int64{7, 7}); return err }},
		{"card in both lists", func() error { _, err := planCardMove(1, 2, 3, 0, []int64{1, 7}, []int64{8, 7}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, "validation_error", toAPIError(err).Code)
		})
	}
}

func TestEmptyReorderIsNoop(t *testing.T) {
	ps := newMemPositions(1, map[int64]memDoc{1: {1, 0}})
	plan, err := planListReorder(1, nil)
	require.NoError(t, err)

	_, err = newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, memDoc{1, 0}, ps.docs[1])
}

func TestMoveCardAllowsMovedIDInBothLists(t *testing.T) {
	plan, err := planCardMove(1, 10, 20, 0, []int64{1, 2}, []int64{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []siblingGroup{{Parent: 10, IDs: []int64{2}}, {Parent: 20, IDs: []int64{1, 3}}}, plan.Groups)
}

func TestMissingWriteOnlyDropsItsOwnParent(t *testing.T) {
	const listA, listB = 10, 20
	for seed := int64(0); seed < 25; seed++ {
		ps := newMemPositions(seed, map[int64]memDoc{1: {listA, 0}, 2: {listA, 1}, 3: {listB, 0}})
		plan := reindexPlan{Kind: siblingCards, MovedID: 1, Groups: []siblingGroup{
			{Parent: listA, IDs: []int64{2}},
			{Parent: listB, IDs: []int64{1, 3, 2}},
		}}

		res, err := newReindexer(ps, reindexStaged, time.Second, nil).apply(context.Background(), plan)
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, res.Skipped)
		assert.Equal(t, []int64{2}, ps.order(listA), "seed %d", seed)
		assert.Equal(t, []int64{1, 3}, ps.order(listB), "seed %d", seed)
		for id, d := range ps.docs {
			assert.GreaterOrEqual(t, d.pos, int64(0), "card %d left staged, seed %d", id, seed)
		}
	}
}

// gatedPositions runs hooks around each writePositions call so tests can
// interleave the phases of two reorders.
type gatedPositions struct {
	positionStore
	calls  int
	before func(call int)
	after  func(call int)
}

func (g *gatedPositions) writePositions(ctx context.Context, kind siblingKind, writes []positionWrite) []error {
	g.calls++
	if g.before != nil {
		g.before(g.calls)
	}
	errs := g.positionStore.writePositions(ctx, kind, writes)
	if g.after != nil {
		g.after(g.calls)
	}
	return errs
}

func TestConcurrentReordersOneConflicts(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		ps := newMemPositions(seed, map[int64]memDoc{1: {1, 0}, 2: {1, 1}, 3: {1, 2}})
		aStaged, bStaged, aDone := make(chan struct{}), make(chan struct{}), make(chan struct{})

		first := &gatedPositions{positionStore: ps,
			before: func(n int) {
				if n == 2 {
					<-bStaged
				}
			},
			after: func(n int) {
				switch n {
				case 1:
					close(aStaged)
				case 2:
					close(aDone)
				}
			},
		}
		second := &gatedPositions{positionStore: ps,
			before: func(n int) {
				switch n {
				case 1:
					<-aStaged
				case 2:
					<-aDone
				}
			},
			after: func(n int) {
				if n == 1 {
					close(bStaged)
				}
			},
		}
		planA, err := planListReorder(1, []int64{3, 1, 2})
		require.NoError(t, err)
		planB, err := planListReorder(1, []int64{2, 3, 1})
		require.NoError(t, err)

		var errB error
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, errB = newReindexer(second, reindexStaged, time.Second, nil).apply(context.Background(), planB)
		}()
		_, errA := newReindexer(first, reindexStaged, time.Second, nil).apply(context.Background(), planA)
		<-done

		if errA == nil {
			require.ErrorIs(t, errB, ErrPositionConflict, "seed %d", seed)
			assert.Equal(t, []int64{3, 1, 2}, ps.order(1), "seed %d", seed)
		} else {
			require.ErrorIs(t, errA, ErrPositionConflict, "seed %d", seed)
			require.NoError(t, errB, "seed %d", seed)
			assert.Equal(t, []int64{2, 3, 1}, ps.order(1), "seed %d", seed)
		}
	}
}
