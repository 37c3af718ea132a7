package lock

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ExclusivePerKey(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	rel, err := l.Acquire(ctx, "seek")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "seek")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "indeed")
	require.NoError(t, err, "other sources are independent")
	other()

	rel()
	rel()

	again, err := l.Acquire(ctx, "seek")
	require.NoError(t, err)
	again()
}

type failing struct{ err error }

func (f failing) Acquire(context.Context, string) (Release, error) { return nil, f.err }

func TestChain_ReleasesOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	local := NewLocal()
	boom := errors.New("redis unreachable")

	_, err := Chain{local, failing{boom}}.Acquire(ctx, "seek")
	require.ErrorIs(t, err, boom)

	rel, err := local.Acquire(ctx, "seek")
	require.NoError(t, err, "first lock was released")
	rel()
}

func TestChain_HeldPropagates(t *testing.T) {
	ctx := context.Background()
	a, b := NewLocal(), NewLocal()

	rel, err := Chain{a, b}.Acquire(ctx, "seek")
	require.NoError(t, err)

	_, err = Chain{a, b}.Acquire(ctx, "seek")
	assert.ErrorIs(t, err, ErrHeld)

	rel()
	rel, err = Chain{a, b}.Acquire(ctx, "seek")
	require.NoError(t, err)
	rel()
}
