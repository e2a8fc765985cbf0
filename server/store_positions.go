package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// positionWriters caps concurrent statements per batch; the pool holds 20.
const positionWriters = 8

// writePositions runs each write as an independent statement with no shared
// transaction, in parallel.
func (s *Store) writePositions(ctx context.Context, kind siblingKind, writes []positionWrite) []error {
	errs := make([]error, len(writes))
	var g errgroup.Group
	g.SetLimit(positionWriters)
	for i, w := range writes {
		g.Go(func() error {
			errs[i] = writePosition(ctx, s.db, kind, w)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (s *Store) inPositionTx(ctx context.Context, fn func(tx positionStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(txPositions{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err, "") {
			return ErrPositionConflict
		}
		return fmt.Errorf("commit reorder tx: %w", err)
	}
	return nil
}

type txPositions struct {
	tx *sql.Tx
}

// writePositions is sequential inside a transaction. After a statement error
// Postgres rejects everything else in the tx, so the rest are left unattempted.
func (t txPositions) writePositions(ctx context.Context, kind siblingKind, writes []positionWrite) []error {
	errs := make([]error, len(writes))
	for i, w := range writes {
		errs[i] = writePosition(ctx, t.tx, kind, w)
		if errs[i] != nil && !errors.Is(errs[i], errMissing) {
			break
		}
	}
	return errs
}

func writePosition(ctx context.Context, db execer, kind siblingKind, w positionWrite) error {
	var q string
	switch {
	case kind == siblingLists && w.Reparent:
		q = `update lists set position=$1, board_id=$3 where id=$2`
	case kind == siblingLists:
		q = `update lists set position=$1 where id=$2 and board_id=$3`
	case w.Reparent:
		q = `update cards set position=$1, list_id=$3, updated_at=now() where id=$2`
	default:
		q = `update cards set position=$1, updated_at=now() where id=$2 and list_id=$3`
	}
	res, err := db.ExecContext(ctx, q, w.Position, w.ID, w.Parent)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("%w: %v", ErrPositionConflict, err)
		}
		return fmt.Errorf("write %s %d position: %w", kind, w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errMissing
	}
	return nil
}
