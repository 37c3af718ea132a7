//go:build integration

package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: go test -tags=integration ./internal/lock
// Requires: REDIS_URL
func TestRedis_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration tests")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	key := "it-" + time.Now().Format("150405.000")
	a, b := NewRedis(rdb, time.Minute), NewRedis(rdb, time.Minute)

	rel, err := a.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrHeld)

	rel()
	rel, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	rel()
}
