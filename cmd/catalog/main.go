// catalog-service: ingests job postings from external sources into the
// job_posting catalog and keeps their active/inactive lifecycle in sync.
//
// Commands:
//   - serve                 cron-driven ingestion, HTTP /health + /metrics, gRPC health
//   - run-once [source...]  one run for the given (default: all) sources, then exit
//   - migrate               apply embedded schema migrations
//   - status                per-source active/inactive counts
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"jobmate/catalog-service/internal/config"
	"jobmate/catalog-service/internal/db"
	"jobmate/catalog-service/internal/grpcserver"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/model"
	"jobmate/catalog-service/internal/scheduler"
	"jobmate/catalog-service/internal/store"
)

const (
	serviceName     = "catalog-service"
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

var (
	configPath string
	cfg        *config.Config
	log        *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "catalog",
	Short:         "Job posting ingestion and lifecycle reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return errors.Wrap(err, "config")
		}
		if log, err = logger.New(logger.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err != nil {
			return errors.Wrap(err, "logger")
		}
		log = log.With("service", serviceName)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled ingestion with health and metrics endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once [source...]",
	Short: "Run ingestion once for the given sources (all when omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		_, err = db.Migrate(ctx, pool, log.WithComponent("migrate"))
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print stored posting counts per source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		stats, err := store.NewPostgres(pool).Stats(ctx)
		if err != nil {
			return err
		}
		printStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	defaultPath := os.Getenv("CATALOG_CONFIG")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML config file (env CATALOG_CONFIG)")
	rootCmd.AddCommand(serveCmd, runOnceCmd, migrateCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", serviceName, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// ── gRPC health ──────────────────────────────────────────────────────────
	health := grpcserver.New(a.sourceNames(), log)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return errors.Wrapf(err, "listen grpc :%s", cfg.GRPCPort)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Errorw("grpc server error", "error", err)
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := newHTTPServer(cfg.Port, health, a.registry)
	go func() {
		log.Infow("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http server error", "error", err)
		}
	}()

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(a.orch, a.jobs, scheduler.Options{
		Concurrency: cfg.Ingest.Concurrency,
		RunOnStart:  cfg.Ingest.RunOnStart,
		Status:      health,
	}, log)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown error", "error", err)
	}
	health.Stop()
	log.Infow("stopped")
	return nil
}

func runOnce(ctx context.Context, sources []string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.orch, a.jobs, scheduler.Options{Concurrency: cfg.Ingest.Concurrency}, log)
	reports, err := sched.RunAll(ctx, sources...)
	for _, rep := range reports {
		fmt.Printf("%-16s %-16s fetched=%d excluded=%d inserted=%d refreshed=%d reactivated=%d deactivated=%d\n",
			rep.Source, rep.Outcome, rep.Fetched, rep.Excluded,
			rep.Merge.Inserted, rep.Merge.Refreshed, rep.Merge.Reactivated, rep.Deactivated)
	}
	return err
}

func printStats(w io.Writer, stats []model.SourceStats) {
	for _, st := range stats {
		last := "never"
		if st.LastSeen != nil {
			last = st.LastSeen.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-16s active=%d inactive=%d last_seen=%s\n", st.Source, st.Active, st.Inactive, last)
	}
}
