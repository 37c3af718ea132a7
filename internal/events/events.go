// Package events announces finished ingestion runs to downstream services.
//
// Publishing is best effort: callers log a failed publish and carry on, the
// catalog itself is already consistent by the time an event is sent.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// TypePostingsReconciled is sent once per run, successful or not.
const TypePostingsReconciled = "EVENT_POSTINGS_RECONCILED"

// RunEvent summarizes one ingestion run.
type RunEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"runId"`
	Source      string    `json:"source"`
	Outcome     string    `json:"outcome"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Fetched     int       `json:"fetched"`
	Excluded    int       `json:"excluded"`
	Inserted    int       `json:"inserted"`
	Refreshed   int       `json:"refreshed"`
	Reactivated int       `json:"reactivated"`
	Deactivated int64     `json:"deactivated"`
	Error       string    `json:"error,omitempty"`
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, ev RunEvent) error
	Close() error
}

// ─── Nop ─────────────────────────────────────────────────────────────────────

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, RunEvent) error { return nil }
func (Nop) Close() error { return nil }

// ─── Redis pub/sub ───────────────────────────────────────────────────────────

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes events as JSON on a pub/sub channel named after the event
// type.
type Redis struct {
	rdb redisPublisher
}

// NewRedis wraps a connected client.
func NewRedis(rdb redisPublisher) *Redis {
	return &Redis{rdb: rdb}
}

// Publish implements Publisher.
func (r *Redis) Publish(ctx context.Context, ev RunEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := r.rdb.Publish(ctx, ev.Type, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (r *Redis) Close() error { return nil }

// ─── Kafka ───────────────────────────────────────────────────────────────────

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events to a topic keyed by source, so runs of the same source
// stay ordered within a partition.
type Kafka struct {
	writer messageWriter
}

// NewKafka builds a synchronous writer for topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, ev RunEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := kafka.Message{
		Key:   []byte(ev.Source),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "publishing to kafka")
	}
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
