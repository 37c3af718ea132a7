package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"jobmate/catalog-service/internal/config"
	"jobmate/catalog-service/internal/db"
	"jobmate/catalog-service/internal/events"
	"jobmate/catalog-service/internal/ingest"
	"jobmate/catalog-service/internal/lock"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/metrics"
	"jobmate/catalog-service/internal/scheduler"
	"jobmate/catalog-service/internal/scraper"
	"jobmate/catalog-service/internal/store"
)

// app is the fully wired service. Everything is built here and injected;
// no package keeps a global connection.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	pool      *pgxpool.Pool
	rdb       *redis.Client // nil without REDIS_URL
	store     *store.Postgres
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	publisher events.Publisher
	orch      *ingest.Orchestrator
	jobs      []scheduler.Job
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	log.Infow("connecting to PostgreSQL")
	if a.pool, err = db.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "postgres")
	}
	a.store = store.NewPostgres(a.pool)

	locker := lock.Locker(lock.NewLocal())
	if cfg.RedisURL != "" {
		log.Infow("connecting to Redis")
		if a.rdb, err = db.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, errors.Wrap(err, "redis")
		}
		locker = lock.Chain{locker, lock.NewRedis(a.rdb, cfg.Ingest.LockTTL)}
	}

	switch cfg.Events.Sink {
	case config.SinkRedis:
		a.publisher = events.NewRedis(a.rdb)
	case config.SinkKafka:
		a.publisher = events.NewKafka(cfg.Events.Brokers, cfg.Events.Topic)
	default:
		a.publisher = events.Nop{}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.orch = ingest.New(a.store, log, ingest.Options{
		FetchTimeout: cfg.Ingest.FetchTimeout,
		RedFlags:     cfg.RedFlags(),
		Locker:       locker,
		Publisher:    a.publisher,
		Metrics:      a.metrics,
	})

	for _, src := range cfg.Sources {
		f, err := buildFetcher(cfg, src, a.store, log)
		if err != nil {
			return nil, err
		}
		a.jobs = append(a.jobs, scheduler.Job{
			Source:   src.Name,
			Schedule: cfg.ScheduleFor(src),
			Fetcher:  f,
		})
	}
	return a, nil
}

func buildFetcher(cfg *config.Config, src config.Source, seen scraper.Seen, log *logger.Logger) (scraper.Fetcher, error) {
	switch src.Kind {
	case config.KindStatic:
		return scraper.StaticFetcher{Path: src.Path}, nil
	case config.KindAdzuna:
		return scraper.NewAdzunaFetcher(cfg.Adzuna.AppID, cfg.Adzuna.AppKey, cfg.Adzuna.Country, src.Queries, cfg.Adzuna.RPS), nil
	case config.KindJSearch:
		f := scraper.NewJSearchFetcher(cfg.JSearch.APIKey, src.Searches, cfg.JSearch.Pages, cfg.JSearch.RPS, seen, log)
		f.Source = src.Name
		return f, nil
	}
	return nil, errors.Newf("source %q: unknown kind %q", src.Name, src.Kind)
}

func (a *app) sourceNames() []string {
	names := make([]string, 0, len(a.jobs))
	for _, j := range a.jobs {
		names = append(names, j.Source)
	}
	return names
}

// Close releases every connection in reverse order of creation.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warnw("closing event publisher", "error", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
