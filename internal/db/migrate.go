package db

import (
	"context"
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/catalog-service/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// migrateLockID serializes concurrent Migrate calls across replicas.
const migrateLockID = 0x6a6f626d61746531

type migration struct {
	version string
	file    string
}

// listMigrations returns the embedded migrations ordered by file name. The
// version is the numeric prefix before the first underscore.
func listMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(e.Name(), "_")
		if !ok || version == "" {
			return nil, errors.Newf("migration %s has no version prefix", e.Name())
		}
		out = append(out, migration{version: version, file: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].file < out[j].file })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, errors.Newf("duplicate migration version %s", out[i].version)
		}
	}
	return out, nil
}

// Migrate applies every pending migration, each in its own transaction, and
// returns how many were applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) (int, error) {
	list, err := listMigrations()
	if err != nil {
		return 0, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "acquire connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return 0, errors.Wrap(err, "migration lock")
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()

	applied := 0
	for _, m := range list {
		done, err := isApplied(ctx, conn, m.version)
		if err != nil {
			return applied, err
		}
		if done {
			log.Debugw("skipping migration (already applied)", "migration", m.file)
			continue
		}

		sqlBytes, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", m.file)
		}

		log.Infow("applying migration", "migration", m.file, "version", m.version)
		err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
				return errors.Wrapf(err, "execute %s", m.file)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
				return errors.Wrapf(err, "record %s", m.file)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied++
	}

	log.Infow("migrations complete", "applied", applied, "total", len(list))
	return applied, nil
}

func isApplied(ctx context.Context, conn *pgxpool.Conn, version string) (bool, error) {
	var hasTable bool
	if err := conn.QueryRow(ctx, "SELECT to_regclass('schema_migrations') IS NOT NULL").Scan(&hasTable); err != nil {
		return false, errors.Wrap(err, "check schema_migrations")
	}
	if !hasTable {
		return false, nil
	}
	var exists bool
	err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check migration %s", version)
	}
	return exists, nil
}
