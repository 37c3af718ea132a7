// Package store persists postings in the job_posting table.
//
// Postgres is the production adapter: hash-keyed conflict upserts, bulk
// stale-deactivation, the existence lookup used by source adapters and
// per-source stats. The merge engine, reconciler and orchestrator only see
// the narrow interfaces they declare, so memstore can stand in for it in
// tests.
package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/catalog-service/internal/model"
)

// Table is the postings table name.
const Table = "job_posting"

// mutableColumns are overwritten on every re-observation.
var mutableColumns = []string{
	"title",
	"company",
	"location",
	"description_snippet",
	"posted_at",
	"canonical_url",
	"salary_text",
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Postgres is the pgx-backed posting store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already verified pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// RunInTransaction executes fn inside a transaction carried by ctx. A nested
// call reuses the outer transaction. Any error from fn rolls everything back.
func (s *Postgres) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		// Background context so the rollback survives a cancelled caller.
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			return errors.WithSecondaryError(err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func (s *Postgres) querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// Upsert inserts rec or refreshes the row holding its identity hash.
func (s *Postgres) Upsert(ctx context.Context, rec model.CanonicalRecord, now time.Time) (model.UpsertOutcome, error) {
	query, args, err := buildUpsert(rec, now)
	if err != nil {
		return model.UpsertOutcome{}, errors.Wrap(err, "build upsert")
	}

	var out model.UpsertOutcome
	if err := s.querier(ctx).QueryRow(ctx, query, args...).Scan(&out.ID, &out.Inserted, &out.WasActive); err != nil {
		return model.UpsertOutcome{}, errors.Wrapf(err, "upsert %s", rec.IdentityHash)
	}
	return out, nil
}

// DeactivateStale flips every active posting of source whose last_seen is
// older than threshold, returning the number of rows changed.
func (s *Postgres) DeactivateStale(ctx context.Context, source string, threshold time.Time) (int64, error) {
	query, args, err := buildDeactivate(source, threshold)
	if err != nil {
		return 0, errors.Wrap(err, "build deactivate")
	}

	tag, err := s.querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "deactivate stale postings for %s", source)
	}
	return tag.RowsAffected(), nil
}

// Exists reports whether a posting with identityHash is stored.
func (s *Postgres) Exists(ctx context.Context, identityHash string) (bool, error) {
	var exists bool
	err := s.querier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+Table+` WHERE identity_hash = $1)`,
		identityHash,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "exists query")
	}
	return exists, nil
}

// Stats returns posting counts per source.
func (s *Postgres) Stats(ctx context.Context) ([]model.SourceStats, error) {
	query, args, err := buildStats()
	if err != nil {
		return nil, errors.Wrap(err, "build stats")
	}

	stats := make([]model.SourceStats, 0)
	if err := pgxscan.Select(ctx, s.querier(ctx), &stats, query, args...); err != nil {
		return nil, errors.Wrap(err, "source stats")
	}
	return stats, nil
}

// ─── Statement builders ──────────────────────────────────────────────────────

// buildUpsert renders the conflict-aware upsert. The prev CTE reads the
// pre-statement snapshot so the caller learns whether a refreshed row was
// inactive before.
func buildUpsert(rec model.CanonicalRecord, now time.Time) (string, []any, error) {
	set := "ON CONFLICT (identity_hash) DO UPDATE SET "
	for _, col := range mutableColumns {
		set += col + " = EXCLUDED." + col + ", "
	}
	set += "last_seen = GREATEST(" + Table + ".last_seen, EXCLUDED.last_seen), is_active = TRUE"

	return psql.
		Insert(Table).
		Prefix("WITH prev AS (SELECT is_active FROM "+Table+" WHERE identity_hash = ?)", rec.IdentityHash).
		Columns(
			"source", "title", "company", "location", "description_snippet",
			"posted_at", "canonical_url", "salary_text", "identity_hash",
			"created_at", "first_seen", "last_seen", "is_active",
		).
		Values(
			rec.Source, rec.Title, rec.Company, rec.Location, rec.DescriptionSnippet,
			rec.PostedAt, nullableString(rec.CanonicalURL), nullableString(rec.SalaryText), rec.IdentityHash,
			now, now, now, true,
		).
		Suffix(set).
		Suffix("RETURNING id::text, (xmax = 0) AS inserted, COALESCE((SELECT is_active FROM prev), FALSE) AS was_active").
		ToSql()
}

func buildDeactivate(source string, threshold time.Time) (string, []any, error) {
	return psql.
		Update(Table).
		Set("is_active", false).
		Where(sq.Eq{"source": source}).
		Where(sq.Eq{"is_active": true}).
		Where(sq.Lt{"last_seen": threshold}).
		ToSql()
}

func buildStats() (string, []any, error) {
	return psql.
		Select(
			"source",
			"COUNT(*) FILTER (WHERE is_active) AS active",
			"COUNT(*) FILTER (WHERE NOT is_active) AS inactive",
			"MAX(last_seen) AS last_seen",
		).
		From(Table).
		GroupBy("source").
		OrderBy("source").
		ToSql()
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
