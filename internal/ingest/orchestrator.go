// Package ingest runs one source end to end: fetch, canonicalize, merge,
// reconcile.
//
// The ordering is what keeps the catalog correct. runStartedAt is captured
// before the fetch, merge stamps every re-observed posting at or after it,
// and reconcile only runs once merge committed. A run that fails at any step
// leaves previously active postings active.
package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobmate/catalog-service/internal/canon"
	"jobmate/catalog-service/internal/events"
	"jobmate/catalog-service/internal/lock"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/merge"
	"jobmate/catalog-service/internal/metrics"
	"jobmate/catalog-service/internal/model"
	"jobmate/catalog-service/internal/reconcile"
	"jobmate/catalog-service/internal/scraper"
)

var tracer = otel.Tracer("catalog/ingest")

const publishTimeout = 5 * time.Second

// Run outcomes, used as metric labels and in run events.
const (
	OutcomeSuccess        = "success"
	OutcomeFetchError     = "fetch_error"
	OutcomeMergeError     = "merge_error"
	OutcomeReconcileError = "reconcile_error"
	OutcomeSkipped        = "skipped"
	OutcomeLockError      = "lock_error"
)

// Store is everything a run writes through.
type Store interface {
	merge.Store
	reconcile.Store
}

// Options tunes an Orchestrator. Zero values get sensible defaults.
type Options struct {
	FetchTimeout time.Duration       // 0: no timeout
	RedFlags     map[string][]string // per-source exclusion terms
	Locker       lock.Locker         // default: process-local
	Publisher    events.Publisher    // default: events.Nop
	Metrics      *metrics.Metrics    // nil: not recorded
	Clock        func() time.Time    // default: time.Now in UTC
}

// Report describes one completed (or failed) run.
type Report struct {
	RunID       string
	Source      string
	Outcome     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Fetched     int
	Excluded    int
	Merge       merge.Result
	Deactivated int64
}

// Orchestrator drives ingestion runs.
type Orchestrator struct {
	merger       *merge.Engine
	reconciler   *reconcile.Reconciler
	locker       lock.Locker
	publisher    events.Publisher
	metrics      *metrics.Metrics
	clock        func() time.Time
	fetchTimeout time.Duration
	redFlags     map[string]scraper.RedFlags
	log          *logger.Logger
}

// New builds an Orchestrator over store.
func New(store Store, log *logger.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		merger:       merge.New(store, log),
		reconciler:   reconcile.New(store, log),
		locker:       opts.Locker,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		fetchTimeout: opts.FetchTimeout,
		redFlags:     make(map[string]scraper.RedFlags, len(opts.RedFlags)),
		log:          log.WithComponent("ingest"),
	}
	if o.locker == nil {
		o.locker = lock.NewLocal()
	}
	if o.publisher == nil {
		o.publisher = events.Nop{}
	}
	if o.clock == nil {
		o.clock = func() time.Time { return time.Now().UTC() }
	}
	for source, terms := range opts.RedFlags {
		o.redFlags[source] = scraper.NewRedFlags(terms)
	}
	return o
}

// RunOnceForSource performs a single run for source using f. Concurrent runs
// of the same source fail fast with ErrRunInProgress.
func (o *Orchestrator) RunOnceForSource(ctx context.Context, source string, f scraper.Fetcher) (Report, error) {
	rep := Report{Source: source}
	if source == "" {
		return rep, errors.New("ingest: source is required")
	}

	release, err := o.locker.Acquire(ctx, source)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			rep.Outcome = OutcomeSkipped
			o.observe(rep, 0)
			return rep, errors.Mark(err, ErrRunInProgress)
		}
		rep.Outcome = OutcomeLockError
		o.observe(rep, 0)
		return rep, errors.Wrapf(err, "acquire run lock for %s", source)
	}
	defer release()

	rep.RunID = uuid.Must(uuid.NewV7()).String()
	rep.StartedAt = o.clock()

	ctx, span := tracer.Start(ctx, "ingest.run",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("run_id", rep.RunID),
		))
	defer span.End()

	log := o.log.With("source", source, "run_id", rep.RunID)
	ctx = logger.WithLogger(ctx, log)
	log.Infow("run started")

	err = o.run(ctx, f, &rep)
	rep.FinishedAt = o.clock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, rep.Outcome)
		log.Errorw("run failed", "outcome", rep.Outcome, "error", err)
	} else {
		log.Infow("run finished",
			"fetched", rep.Fetched,
			"excluded", rep.Excluded,
			"inserted", rep.Merge.Inserted,
			"refreshed", rep.Merge.Refreshed,
			"reactivated", rep.Merge.Reactivated,
			"deactivated", rep.Deactivated,
			"took", rep.FinishedAt.Sub(rep.StartedAt),
		)
	}

	o.observe(rep, rep.FinishedAt.Sub(rep.StartedAt))
	o.publish(ctx, rep, err)
	return rep, err
}

func (o *Orchestrator) run(ctx context.Context, f scraper.Fetcher, rep *Report) error {
	raws, err := o.fetch(ctx, f)
	if err != nil {
		rep.Outcome = OutcomeFetchError
		return errors.Mark(errors.Wrapf(err, "fetch %s", rep.Source), ErrFetch)
	}
	rep.Fetched = len(raws)

	kept, excluded := o.redFlags[rep.Source].Filter(raws)
	rep.Excluded = excluded

	records := make([]model.CanonicalRecord, 0, len(kept))
	for _, raw := range kept {
		records = append(records, canon.Canonicalize(rep.Source, raw))
	}

	rep.Merge, err = o.merger.Merge(ctx, records, o.clock())
	if err != nil {
		rep.Outcome = OutcomeMergeError
		return errors.Mark(errors.Wrapf(err, "merge %s", rep.Source), ErrMerge)
	}

	rep.Deactivated, err = o.reconciler.Reconcile(ctx, rep.Source, rep.StartedAt)
	if err != nil {
		rep.Outcome = OutcomeReconcileError
		return errors.Mark(err, ErrReconcile)
	}

	rep.Outcome = OutcomeSuccess
	return nil
}

type fetchResult struct {
	postings []model.RawPosting
	err      error
}

// fetch bounds f by the fetch timeout even if f ignores its context.
func (o *Orchestrator) fetch(ctx context.Context, f scraper.Fetcher) ([]model.RawPosting, error) {
	if o.fetchTimeout <= 0 {
		return f.Fetch(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		postings, err := f.Fetch(ctx)
		done <- fetchResult{postings, err}
	}()

	select {
	case r := <-done:
		return r.postings, r.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "fetch exceeded %s", o.fetchTimeout)
	}
}

func (o *Orchestrator) observe(rep Report, took time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveRun(rep.Source, rep.Outcome, took, rep.FinishedAt)
	if rep.Outcome != OutcomeSuccess {
		return
	}
	o.metrics.PostingsFetched.WithLabelValues(rep.Source).Add(float64(rep.Fetched))
	o.metrics.PostingsExcluded.WithLabelValues(rep.Source).Add(float64(rep.Excluded))
	o.metrics.PostingsMerged.WithLabelValues(rep.Source, "inserted").Add(float64(rep.Merge.Inserted))
	o.metrics.PostingsMerged.WithLabelValues(rep.Source, "refreshed").Add(float64(rep.Merge.Refreshed))
	o.metrics.PostingsMerged.WithLabelValues(rep.Source, "reactivated").Add(float64(rep.Merge.Reactivated))
	o.metrics.PostingsDeactivated.WithLabelValues(rep.Source).Add(float64(rep.Deactivated))
}

// publish announces the run. Failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, rep Report, runErr error) {
	ev := events.RunEvent{
		Type:        events.TypePostingsReconciled,
		RunID:       rep.RunID,
		Source:      rep.Source,
		Outcome:     rep.Outcome,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		Fetched:     rep.Fetched,
		Excluded:    rep.Excluded,
		Inserted:    rep.Merge.Inserted,
		Refreshed:   rep.Merge.Refreshed,
		Reactivated: rep.Merge.Reactivated,
		Deactivated: rep.Deactivated,
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, ev); err != nil {
		logger.FromContext(ctx, o.log).Warnw("publish run event failed", "error", err)
	}
}
