package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsledger/treasury-infra/internal/domain"
)

const payloadField = "payload"

// RedisStreamLog backs the event log with a Redis Stream. Retention is enforced
// with approximate MAXLEN trimming on append; the stream id doubles as the
// event id so acknowledgments line up with deliveries across processes.
type RedisStreamLog struct {
	client    *redis.Client
	stream    string
	retention int64
}

func NewRedisStreamLog(client *redis.Client, stream string, retention int) *RedisStreamLog {
	if stream == "" {
		stream = "treasury:events"
	}
	if retention <= 0 {
		retention = 10000
	}
	return &RedisStreamLog{client: client, stream: stream, retention: int64(retention)}
}

func (l *RedisStreamLog) Append(ctx context.Context, event domain.Event) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.retention,
		Approx: true,
		Values: map[string]any{payloadField: raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream %s: %w", l.stream, err)
	}
	return id, nil
}

func (l *RedisStreamLog) ensureGroup(ctx context.Context, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// ReadGroup drains the consumer's own pending entries first so an event that
// failed processing redelivers before any new work, then blocks for fresh ones.
func (l *RedisStreamLog) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]domain.Event, error) {
	if count <= 0 {
		count = 10
	}
	if err := l.ensureGroup(ctx, group); err != nil {
		return nil, err
	}

	out := make([]domain.Event, 0, count)

	pending, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.stream, "0"},
		Count:    int64(count),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read pending from %s: %w", l.stream, err)
	}
	out = appendStreamEvents(out, pending)
	if len(out) >= count {
		return out[:count], nil
	}

	fresh, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    int64(count - len(out)),
		Block:    readBlock(block),
	}).Result()
	if err != nil && err != redis.Nil {
		return out, fmt.Errorf("read group %s: %w", group, err)
	}
	return appendStreamEvents(out, fresh), nil
}

// readBlock maps the caller's block duration onto go-redis argument semantics.
// A zero duration would emit BLOCK 0, which in Redis means wait forever; the
// contract here is that non-positive block returns immediately, so those
// collapse to a negative duration that omits the BLOCK argument.
func readBlock(block time.Duration) time.Duration {
	if block <= 0 {
		return -1
	}
	return block
}

func appendStreamEvents(out []domain.Event, streams []redis.XStream) []domain.Event {
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values[payloadField].(string)
			if !ok {
				continue
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				continue
			}
			event.ID = msg.ID
			out = append(out, event)
		}
	}
	return out
}

func (l *RedisStreamLog) Ack(ctx context.Context, group string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := l.client.XAck(ctx, l.stream, group, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("ack in group %s: %w", group, err)
	}
	return int(n), nil
}

func (l *RedisStreamLog) History(ctx context.Context, count int) ([]domain.Event, error) {
	if count <= 0 {
		count = 50
	}
	msgs, err := l.client.XRevRangeN(ctx, l.stream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("history read from %s: %w", l.stream, err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			continue
		}
		var event domain.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		event.ID = msg.ID
		out = append(out, event)
	}
	return out, nil
}
