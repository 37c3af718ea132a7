// Package scheduler wires up one cron entry per configured source and the
// fan-out used by the run-once command.
package scheduler

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"jobmate/catalog-service/internal/ingest"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/scraper"
)

// Runner performs a single ingestion run.
type Runner interface {
	RunOnceForSource(ctx context.Context, source string, f scraper.Fetcher) (ingest.Report, error)
}

// StatusSink is told whether the last run of a source succeeded.
type StatusSink interface {
	SetSourceStatus(source string, healthy bool)
}

// Job is one schedulable source.
type Job struct {
	Source   string
	Schedule string // cron spec, e.g. "@every 6h"
	Fetcher  scraper.Fetcher
}

// Options tunes a Scheduler.
type Options struct {
	Concurrency int        // RunAll parallelism; default 1
	RunOnStart  bool       // run every source once right after Start
	Status      StatusSink // optional
}

// Scheduler wraps robfig/cron and manages the ingestion loop.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	jobs   []Job
	opts   Options
	log    *logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler for jobs. Overlapping ticks of the same source are
// skipped rather than queued.
func New(runner Runner, jobs []Job, opts Options, log *logger.Logger) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	log = log.WithComponent("scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		jobs:    jobs,
		opts:    opts,
		log:     log,
		entries: make(map[string]cron.EntryID, len(jobs)),
	}
}

// Start registers every job and starts the scheduler. With RunOnStart, each
// source also runs immediately so the catalog is populated without waiting
// for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		id, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(ctx, job)
		})
		if err != nil {
			return errors.Wrapf(err, "schedule %s (%q)", job.Source, job.Schedule)
		}
		s.entries[job.Source] = id
	}

	s.cron.Start()
	s.log.Infow("cron started", "sources", len(s.jobs))

	if s.opts.RunOnStart {
		for _, id := range s.entries {
			// WrappedJob carries the SkipIfStillRunning chain.
			go s.cron.Entry(id).WrappedJob.Run()
		}
	}
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Infow("cron stopped")
	case <-ctx.Done():
		s.log.Warnw("cron stop timed out, runs still in flight")
	}
}

// RunAll runs the named sources (all when names is empty) concurrently, at
// most Concurrency at a time. A failing source does not stop the others; the
// returned error joins every per-source failure.
func (s *Scheduler) RunAll(ctx context.Context, names ...string) ([]ingest.Report, error) {
	jobs, err := s.pick(names)
	if err != nil {
		return nil, err
	}

	reports := make([]ingest.Report, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			reports[i], errs[i] = s.run(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}

func (s *Scheduler) pick(names []string) ([]Job, error) {
	if len(names) == 0 {
		return s.jobs, nil
	}
	byName := make(map[string]Job, len(s.jobs))
	for _, j := range s.jobs {
		byName[j.Source] = j
	}
	out := make([]Job, 0, len(names))
	for _, n := range names {
		j, ok := byName[n]
		if !ok {
			return nil, errors.Newf("unknown source %q", n)
		}
		out = append(out, j)
	}
	return out, nil
}

// runJob is the cron entry body: failures are logged, never propagated.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	_, err := s.run(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrRunInProgress):
		s.log.Infow("run skipped, previous run still active", "source", job.Source)
	default:
		s.log.Errorw("run failed", "source", job.Source, "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) (ingest.Report, error) {
	rep, err := s.runner.RunOnceForSource(ctx, job.Source, job.Fetcher)
	if s.opts.Status != nil && !errors.Is(err, ingest.ErrRunInProgress) {
		s.opts.Status.SetSourceStatus(job.Source, err == nil)
	}
	return rep, errors.Wrapf(err, "source %s", job.Source)
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
