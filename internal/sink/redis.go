package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/sentinel/internal/model"
)

// DefaultStream is the Redis stream used when none is configured.
const DefaultStream = "sentinel:audit"

// RedisSink appends events to a Redis stream with XADD.
type RedisSink struct {
	name   string
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to stream. A positive maxLen caps the
// stream length approximately.
func NewRedisSink(name string, client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{name: name, client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisSink) Name() string { return r.name }

func (r *RedisSink) Write(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Permanent(fmt.Errorf("marshal event: %w", err))
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"type":         ev.Type,
			"tool_call_id": ev.ToolCallID,
			"payload":      string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisSink) Close() error { return r.client.Close() }
