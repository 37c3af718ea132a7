package ingest

import "github.com/cockroachdb/errors"

// Failure kinds of a run. Every run error is marked with exactly one of them;
// test with errors.Is. All are scoped to one source: the catalog for that
// source keeps its last-known-good state and other sources are unaffected.
var (
	ErrFetch         = errors.New("fetch failed")
	ErrMerge         = errors.New("merge failed")
	ErrReconcile     = errors.New("reconcile failed")
	ErrRunInProgress = errors.New("run already in progress")
)
