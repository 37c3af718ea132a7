package merge_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/catalog-service/internal/canon"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/merge"
	"jobmate/catalog-service/internal/model"
	"jobmate/catalog-service/internal/store/memstore"
)

var (
	t1 = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(6 * time.Hour)
)

func batch() []model.CanonicalRecord {
	return []model.CanonicalRecord{
		canon.Canonicalize("seek", model.RawPosting{Title: "Junior Software Developer", Company: "Acme Pty Ltd", Location: "Sydney NSW"}),
		canon.Canonicalize("seek", model.RawPosting{Title: "Backend Engineer", Company: "FinTech Global", Location: "Melbourne VIC"}),
	}
}

func TestMerge_IdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := merge.New(s, logger.Nop())

	res, err := e.Merge(ctx, batch(), t1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = e.Merge(ctx, batch(), t2)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 2, res.Refreshed)
	assert.Equal(t, 2, res.Merged())
	assert.Equal(t, 2, s.Len())

	for _, rec := range batch() {
		p, err := s.Get(ctx, rec.IdentityHash)
		require.NoError(t, err)
		assert.Equal(t, t1, p.FirstSeen)
		assert.Equal(t, t1, p.CreatedAt)
		assert.Equal(t, t2, p.LastSeen)
		assert.True(t, p.IsActive)
	}
}

func TestMerge_OverwritesMutableFields(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := merge.New(s, logger.Nop())

	raw := model.RawPosting{Title: "SRE", Company: "Acme", DescriptionSnippet: "old", SalaryText: "$100k"}
	_, err := e.Merge(ctx, []model.CanonicalRecord{canon.Canonicalize("seek", raw)}, t1)
	require.NoError(t, err)

	raw.DescriptionSnippet = "new"
	raw.SalaryText = ""
	rec := canon.Canonicalize("seek", raw)
	_, err = e.Merge(ctx, []model.CanonicalRecord{rec}, t2)
	require.NoError(t, err)

	p, err := s.Get(ctx, rec.IdentityHash)
	require.NoError(t, err)
	assert.Equal(t, "new", p.DescriptionSnippet)
	assert.Nil(t, p.SalaryText)
}

func TestMerge_EmptyBatchIsNoop(t *testing.T) {
	s := memstore.New()
	res, err := merge.New(s, logger.Nop()).Merge(context.Background(), nil, t1)

	require.NoError(t, err)
	assert.Zero(t, res.Merged())
	assert.Zero(t, s.Calls(memstore.OpCommit))
}

func TestMerge_CollapsesDuplicatesLastWins(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	first := canon.Canonicalize("seek", model.RawPosting{Title: "Data Engineer", Company: "Acme", SalaryText: "$90k"})
	second := canon.Canonicalize("seek", model.RawPosting{Title: "  DATA engineer", Company: "acme ", SalaryText: "$95k"})
	require.Equal(t, first.IdentityHash, second.IdentityHash)

	res, err := merge.New(s, logger.Nop()).Merge(ctx, []model.CanonicalRecord{first, second}, t1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, s.Calls(memstore.OpUpsert))

	p, err := s.Get(ctx, first.IdentityHash)
	require.NoError(t, err)
	require.NotNil(t, p.SalaryText)
	assert.Equal(t, "$95k", *p.SalaryText)
}

func TestMerge_Reactivates(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	e := merge.New(s, logger.Nop())

	_, err := e.Merge(ctx, batch(), t1)
	require.NoError(t, err)
	_, err = s.DeactivateStale(ctx, "seek", t2)
	require.NoError(t, err)

	hash := batch()[0].IdentityHash
	p, err := s.Get(ctx, hash)
	require.NoError(t, err)
	require.False(t, p.IsActive)

	back := t2.Add(time.Hour)
	res, err := e.Merge(ctx, batch()[:1], back)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reactivated)

	p, err = s.Get(ctx, hash)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, back, p.LastSeen)
	assert.Equal(t, t1, p.FirstSeen, "first_seen survives a deactivation")
}

func TestMerge_StoreFailureLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	s.FailOn(memstore.OpCommit, errors.New("connection lost"))

	_, err := merge.New(s, logger.Nop()).Merge(ctx, batch(), t1)
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestMerge_RejectsUncanonicalizedRecords(t *testing.T) {
	s := memstore.New()
	_, err := merge.New(s, logger.Nop()).Merge(context.Background(), []model.CanonicalRecord{{Source: "seek", Title: "x"}}, t1)

	require.ErrorIs(t, err, merge.ErrInvalidRecord)
	assert.Zero(t, s.Calls(memstore.OpUpsert))
}
