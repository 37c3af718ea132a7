//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/catalog-service/internal/canon"
	"jobmate/catalog-service/internal/db"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/model"
)

type seenRow struct {
	FirstSeen time.Time
	LastSeen  time.Time
	IsActive  bool
}

func readSeen(t *testing.T, pool *pgxpool.Pool, hash string) seenRow {
	t.Helper()
	var r seenRow
	err := pool.QueryRow(context.Background(),
		`SELECT first_seen, last_seen, is_active FROM job_posting WHERE identity_hash = $1`, hash,
	).Scan(&r.FirstSeen, &r.LastSeen, &r.IsActive)
	require.NoError(t, err)
	return r
}

// Run with: go test -tags=integration ./internal/store
// Requires: TEST_DATABASE_URL (a scratch database; migrations are applied)
func TestPostgres_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}
	ctx := context.Background()

	pool, err := db.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	_, err = db.Migrate(ctx, pool, logger.Nop())
	require.NoError(t, err)

	source := "it-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM job_posting WHERE source = $1`, source)
	})

	s := NewPostgres(pool)
	rec := canon.Canonicalize(source, model.RawPosting{Title: "Backend Engineer", Company: "FinTech Global", Location: "Melbourne VIC"})
	t1 := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	t.Run("insert then refresh", func(t *testing.T) {
		out, err := s.Upsert(ctx, rec, t1)
		require.NoError(t, err)
		assert.True(t, out.Inserted)

		again, err := s.Upsert(ctx, rec, t2)
		require.NoError(t, err)
		assert.False(t, again.Inserted)
		assert.True(t, again.WasActive)
		assert.Equal(t, out.ID, again.ID)

		row := readSeen(t, pool, rec.IdentityHash)
		assert.True(t, row.FirstSeen.Equal(t1))
		assert.True(t, row.LastSeen.Equal(t2))
	})

	t.Run("last_seen never moves back", func(t *testing.T) {
		_, err := s.Upsert(ctx, rec, t1.Add(30*time.Minute))
		require.NoError(t, err)
		assert.True(t, readSeen(t, pool, rec.IdentityHash).LastSeen.Equal(t2))
	})

	t.Run("deactivate and reactivate", func(t *testing.T) {
		n, err := s.DeactivateStale(ctx, source, t2.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.False(t, readSeen(t, pool, rec.IdentityHash).IsActive)

		n, err = s.DeactivateStale(ctx, source, t2.Add(time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n)

		out, err := s.Upsert(ctx, rec, t3)
		require.NoError(t, err)
		assert.False(t, out.Inserted)
		assert.False(t, out.WasActive)

		row := readSeen(t, pool, rec.IdentityHash)
		assert.True(t, row.IsActive)
		assert.True(t, row.FirstSeen.Equal(t1))
		assert.True(t, row.LastSeen.Equal(t3))
	})

	t.Run("failed transaction leaves nothing", func(t *testing.T) {
		other := canon.Canonicalize(source, model.RawPosting{Title: "Data Engineer", Company: "Acme"})
		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.Upsert(ctx, other, t3); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.Error(t, err)

		ok, err := s.Exists(ctx, other.IdentityHash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		for _, st := range stats {
			if st.Source != source {
				continue
			}
			assert.Equal(t, int64(1), st.Active)
			assert.Zero(t, st.Inactive)
			require.NotNil(t, st.LastSeen)
			assert.True(t, st.LastSeen.Equal(t3))
			return
		}
		t.Fatalf("no stats row for %s", source)
	})
}
