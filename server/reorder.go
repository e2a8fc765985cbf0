package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type siblingKind int

const (
	siblingLists siblingKind = iota // parent is a board
	siblingCards                    // parent is a list
)

func (k siblingKind) String() string {
	if k == siblingLists {
		return "list"
	}
	return "card"
}

// positionWrite sets one document's position. Sibling writes only apply while
// the document still belongs to Parent; a Reparent write moves it there.
type positionWrite struct {
	ID       int64
	Parent   int64
	Position int64
	Reparent bool
}

// errMissing marks a write whose document is gone or now lives under another parent.
var errMissing = errors.New("document missing from parent")

// positionStore applies a batch of independent writes in no particular order.
// The returned slice is parallel to writes; a nil entry means the write landed.
// Uniqueness violations are reported as ErrPositionConflict.
type positionStore interface {
	writePositions(ctx context.Context, kind siblingKind, writes []positionWrite) []error
}

// positionTxStore is a positionStore that can also run both phases inside one transaction.
type positionTxStore interface {
	positionStore
	inPositionTx(ctx context.Context, fn func(tx positionStore) error) error
}

type siblingGroup struct {
	Parent int64
	IDs    []int64 // target order
}

type reindexPlan struct {
	Kind    siblingKind
	MovedID int64
	Groups  []siblingGroup
}

type reindexMode string

const (
	reindexStaged reindexMode = "staged"
	reindexTx     reindexMode = "tx"
)

type reindexResult struct {
	Skipped []int64
}

type reindexer struct {
	store      positionStore
	mode       reindexMode
	timeout    time.Duration
	log        *slog.Logger
	onConflict func(kind siblingKind)
}

func newReindexer(store positionStore, mode reindexMode, timeout time.Duration, log *slog.Logger) *reindexer {
	if mode == "" {
		mode = reindexStaged
	}
	return &reindexer{store: store, mode: mode, timeout: timeout, log: log}
}

// apply commits plan through a disjoint negative staging range so the
// per-parent unique index is never violated between the two phases.
func (r *reindexer) apply(ctx context.Context, plan reindexPlan) (reindexResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var res reindexResult
	var err error
	if txs, ok := r.store.(positionTxStore); ok && r.mode == reindexTx {
		err = txs.inPositionTx(ctx, func(tx positionStore) error {
			res, err = runReindex(ctx, tx, plan)
			return err
		})
	} else {
		res, err = runReindex(ctx, r.store, plan)
	}
	if errors.Is(err, ErrPositionConflict) && r.onConflict != nil {
		r.onConflict(plan.Kind)
	}
	if err == nil && len(res.Skipped) > 0 && r.log != nil {
		r.log.Debug("reindex skipped stale ids", "kind", plan.Kind.String(), "ids", res.Skipped)
	}
	return res, err
}

func runReindex(ctx context.Context, ps positionStore, plan reindexPlan) (reindexResult, error) {
	staged := stageWrites(plan)
	if len(staged) == 0 {
		return reindexResult{}, nil
	}
	missing, err := checkWrites(plan, staged, ps.writePositions(ctx, plan.Kind, staged))
	if err != nil {
		return reindexResult{}, fmt.Errorf("stage %s positions: %w", plan.Kind, err)
	}
	final := finalWrites(plan, missing)
	if _, err := checkWrites(plan, final, ps.writePositions(ctx, plan.Kind, final)); err != nil {
		return reindexResult{}, fmt.Errorf("assign %s positions: %w", plan.Kind, err)
	}
	res := reindexResult{}
	for k := range missing {
		res.Skipped = append(res.Skipped, k.ID)
	}
	return res, nil
}

// slot identifies one document under one parent. A write that misses only
// drops the document from that parent's ranking.
type slot struct {
	ID     int64
	Parent int64
}

// stageWrites hands out -1, -2, ... from one counter across all groups, so two
// groups staged in the same unordered batch can never collide. The moved
// document goes first and lands on -1 under its new parent.
func stageWrites(plan reindexPlan) []positionWrite {
	var writes []positionWrite
	next := int64(1)
	if plan.MovedID != 0 {
		for _, g := range plan.Groups {
			if containsID(g.IDs, plan.MovedID) {
				writes = append(writes, positionWrite{ID: plan.MovedID, Parent: g.Parent, Position: -next, Reparent: true})
				next++
				break
			}
		}
	}
	for _, g := range plan.Groups {
		for _, id := range g.IDs {
			if id == plan.MovedID {
				continue
			}
			writes = append(writes, positionWrite{ID: id, Parent: g.Parent, Position: -next})
			next++
		}
	}
	return writes
}

// finalWrites assigns dense 0-based ranks to the survivors of phase one.
func finalWrites(plan reindexPlan, missing map[slot]bool) []positionWrite {
	var writes []positionWrite
	for _, g := range plan.Groups {
		rank := int64(0)
		for _, id := range g.IDs {
			if missing[slot{id, g.Parent}] {
				continue
			}
			writes = append(writes, positionWrite{ID: id, Parent: g.Parent, Position: rank, Reparent: id == plan.MovedID})
			rank++
		}
	}
	return writes
}

// checkWrites tolerates missing siblings and fails on anything touching the
// moved document, on any uniqueness violation, or on a store error.
func checkWrites(plan reindexPlan, writes []positionWrite, errs []error) (map[slot]bool, error) {
	missing := map[slot]bool{}
	var conflict, failure error
	for i, err := range errs {
		if err == nil {
			continue
		}
		w := writes[i]
		switch {
		case errors.Is(err, ErrPositionConflict):
			if conflict == nil {
				conflict = fmt.Errorf("%w: %s %d at %d", ErrPositionConflict, plan.Kind, w.ID, w.Position)
			}
		case w.ID == plan.MovedID && errors.Is(err, errMissing):
			if conflict == nil {
				conflict = fmt.Errorf("%w: moved %s %d vanished", ErrPositionConflict, plan.Kind, w.ID)
			}
		case errors.Is(err, errMissing):
			missing[slot{w.ID, w.Parent}] = true
		default:
			if failure == nil {
				failure = err
			}
		}
	}
	if conflict != nil {
		return nil, conflict
	}
	if failure != nil {
		return nil, failure
	}
	return missing, nil
}

// planListReorder turns a client ordering of a board's lists into a plan.
func planListReorder(boardID int64, listIDs []int64) (reindexPlan, error) {
	if err := checkDistinct("listIds", listIDs); err != nil {
		return reindexPlan{}, err
	}
	return reindexPlan{Kind: siblingLists, Groups: []siblingGroup{{Parent: boardID, IDs: listIDs}}}, nil
}

// planCardMove inserts cardID at position in the target ordering. The client
// arrays may or may not contain the moved card; it is removed first.
func planCardMove(cardID, sourceListID, targetListID int64, position int, sourceIDs, targetIDs []int64) (reindexPlan, error) {
	if position < 0 {
		return reindexPlan{}, validationError("position must be >= 0")
	}
	if err := checkDistinct("sourceListCardIds", sourceIDs); err != nil {
		return reindexPlan{}, err
	}
	if err := checkDistinct("targetListCardIds", targetIDs); err != nil {
		return reindexPlan{}, err
	}
	if sourceListID == targetListID && len(targetIDs) == 0 {
		targetIDs = sourceIDs
	}
	if sourceListID != targetListID {
		for _, id := range targetIDs {
			if id != cardID && containsID(sourceIDs, id) {
				return reindexPlan{}, validationError("card %d listed in both source and target lists", id)
			}
		}
	}
	target := insertID(removeID(targetIDs, cardID), cardID, position)
	plan := reindexPlan{Kind: siblingCards, MovedID: cardID}
	if sourceListID != targetListID {
		if src := removeID(sourceIDs, cardID); len(src) > 0 {
			plan.Groups = append(plan.Groups, siblingGroup{Parent: sourceListID, IDs: src})
		}
	}
	plan.Groups = append(plan.Groups, siblingGroup{Parent: targetListID, IDs: target})
	return plan, nil
}

func checkDistinct(field string, ids []int64) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return validationError("%s contains an invalid id", field)
		}
		if _, dup := seen[id]; dup {
			return validationError("%s contains duplicate id %d", field, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertID(ids []int64, id int64, at int) []int64 {
	if at > len(ids) {
		at = len(ids)
	}
	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids[:at]...)
	out = append(out, id)
	return append(out, ids[at:]...)
}
