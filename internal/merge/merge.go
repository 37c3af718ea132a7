// Package merge applies a batch of canonical records to the posting store.
//
// Every record becomes one upsert keyed on its identity hash, and the whole
// batch runs in a single transaction: either every posting of the batch is
// recorded with the same last_seen, or none is. Callers must treat an error
// as "nothing happened" and skip reconciliation.
package merge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"jobmate/catalog-service/internal/lifecycle"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/model"
)

// ErrInvalidRecord is returned for records that were never canonicalized.
var ErrInvalidRecord = errors.New("invalid canonical record")

// Store is the part of the posting store the engine writes through.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Upsert(ctx context.Context, rec model.CanonicalRecord, now time.Time) (model.UpsertOutcome, error)
}

// Result summarizes one merged batch.
type Result struct {
	Received    int // records handed in
	Duplicates  int // records collapsed onto an earlier one with the same identity
	Inserted    int
	Refreshed   int
	Reactivated int
}

// Merged is the number of distinct postings written.
func (r Result) Merged() int {
	return r.Inserted + r.Refreshed + r.Reactivated
}

// Engine merges batches into a Store.
type Engine struct {
	store Store
	log   *logger.Logger
}

// New returns an Engine writing to store.
func New(store Store, log *logger.Logger) *Engine {
	return &Engine{store: store, log: log.WithComponent("merge")}
}

// Merge upserts records as one unit of work, stamping every touched row with
// now. An empty batch is a successful no-op.
func (e *Engine) Merge(ctx context.Context, records []model.CanonicalRecord, now time.Time) (Result, error) {
	res := Result{Received: len(records)}
	if len(records) == 0 {
		return res, nil
	}

	batch, err := dedupe(records)
	if err != nil {
		return Result{Received: len(records)}, err
	}
	res.Duplicates = len(records) - len(batch)

	err = e.store.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, rec := range batch {
			out, err := e.store.Upsert(ctx, rec, now)
			if err != nil {
				return err
			}
			switch lifecycle.ForUpsert(out.Inserted, out.WasActive) {
			case lifecycle.TransitionInserted:
				res.Inserted++
			case lifecycle.TransitionReactivated:
				res.Reactivated++
			default:
				res.Refreshed++
			}
		}
		return nil
	})
	if err != nil {
		return Result{Received: len(records)}, errors.Wrapf(err, "merge batch of %d", len(batch))
	}

	if res.Duplicates > 0 {
		e.log.Debugw("collapsed duplicate identities in batch", "duplicates", res.Duplicates)
	}
	return res, nil
}

// dedupe keeps one record per identity hash, in first-seen order, with the
// fields of the last occurrence.
func dedupe(records []model.CanonicalRecord) ([]model.CanonicalRecord, error) {
	index := make(map[string]int, len(records))
	out := make([]model.CanonicalRecord, 0, len(records))
	for i, rec := range records {
		if rec.IdentityHash == "" || rec.Source == "" {
			return nil, errors.Wrapf(ErrInvalidRecord, "record %d: missing source or identity hash", i)
		}
		if at, ok := index[rec.IdentityHash]; ok {
			out[at] = rec
			continue
		}
		index[rec.IdentityHash] = len(out)
		out = append(out, rec)
	}
	return out, nil
}
