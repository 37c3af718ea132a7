package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() RunEvent {
	start := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	return RunEvent{
		Type:        TypePostingsReconciled,
		RunID:       "run-1",
		Source:      "seek",
		Outcome:     "success",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
		Fetched:     2,
		Inserted:    1,
		Refreshed:   1,
		Deactivated: 3,
	}
}

func TestRedis_PublishesOnTypeChannel(t *testing.T) {
	f := &fakeRedis{}
	require.NoError(t, NewRedis(f).Publish(context.Background(), sampleEvent()))

	assert.Equal(t, TypePostingsReconciled, f.channel)
	var got map[string]any
	require.NoError(t, json.Unmarshal(f.payload, &got))
	assert.Equal(t, "seek", got["source"])
	assert.Equal(t, float64(3), got["deactivated"])
	assert.NotContains(t, got, "error")
}

func TestRedis_PublishError(t *testing.T) {
	f := &fakeRedis{err: errors.New("connection refused")}
	err := NewRedis(f).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "connection refused")
}

func TestKafka_KeyedBySource(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w}

	require.NoError(t, k.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "seek", string(w.msgs[0].Key))
	assert.Equal(t, TypePostingsReconciled, string(w.msgs[0].Headers[0].Value))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafka_WriteError(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: errors.New("leader not available")}}
	assert.Error(t, k.Publish(context.Background(), sampleEvent()))
}
