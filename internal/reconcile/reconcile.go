// Package reconcile deactivates postings a source stopped reporting.
//
// Reconcile must only run after the merge of the same run succeeded, with the
// run start captured before fetching. Anything active for the source and not
// touched since then was not re-observed and is marked inactive in one bulk
// update.
package reconcile

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"jobmate/catalog-service/internal/logger"
)

var (
	ErrNoSource     = errors.New("reconcile: source is required")
	ErrNoRunStarted = errors.New("reconcile: run start time is required")
)

// Store is the part of the posting store the reconciler needs.
type Store interface {
	DeactivateStale(ctx context.Context, source string, threshold time.Time) (int64, error)
}

// Reconciler flips stale postings to inactive.
type Reconciler struct {
	store Store
	log   *logger.Logger
}

// New returns a Reconciler updating store.
func New(store Store, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, log: log.WithComponent("reconcile")}
}

// Reconcile deactivates every active posting of source whose last_seen is
// before runStartedAt and returns how many were deactivated.
func (r *Reconciler) Reconcile(ctx context.Context, source string, runStartedAt time.Time) (int64, error) {
	if source == "" {
		return 0, ErrNoSource
	}
	if runStartedAt.IsZero() {
		return 0, ErrNoRunStarted
	}

	n, err := r.store.DeactivateStale(ctx, source, runStartedAt)
	if err != nil {
		return 0, errors.Wrapf(err, "reconcile %s", source)
	}
	if n > 0 {
		r.log.Infow("deactivated stale postings", "source", source, "count", n, "threshold", runStartedAt)
	}
	return n, nil
}
