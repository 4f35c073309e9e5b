// Package sink delivers audit events to external destinations: a
// hash-chained JSONL file, HTTP webhooks, Redis streams and Kafka topics.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/sentinel/internal/model"
)

// Sink receives audit events. Write must be safe to call again with the
// same event after a failure.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev model.Event) error
	Close() error
}

// Config describes one sink destination.
type Config struct {
	Kind      string            `yaml:"kind"       json:"kind"` // "file", "webhook", "redis", "kafka", "memory"
	Name      string            `yaml:"name"       json:"name,omitempty"`
	Path      string            `yaml:"path"       json:"path,omitempty"`
	URL       string            `yaml:"url"        json:"url,omitempty"`
	Format    string            `yaml:"format"     json:"format,omitempty"` // "generic", "slack", "pagerduty"
	Events    []string          `yaml:"events"     json:"events,omitempty"`
	Headers   map[string]string `yaml:"headers"    json:"headers,omitempty"`
	Addr      string            `yaml:"addr"       json:"addr,omitempty"`
	Stream    string            `yaml:"stream"     json:"stream,omitempty"`
	MaxLen    int64             `yaml:"max_len"    json:"max_len,omitempty"`
	Brokers   []string          `yaml:"brokers"    json:"brokers,omitempty"`
	Topic     string            `yaml:"topic"      json:"topic,omitempty"`
	QueueSize int               `yaml:"queue_size" json:"queue_size,omitempty"`
}

// DisplayName is the configured name, or the kind when unnamed.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Kind
}

// Build constructs the sink described by cfg.
func Build(cfg Config) (Sink, error) {
	name := cfg.DisplayName()
	switch strings.ToLower(cfg.Kind) {
	case "file", "jsonl":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink %s: path required", name)
		}
		return NewFileSink(name, cfg.Path)
	case "webhook", "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("sink %s: url required", name)
		}
		return NewWebhookSink(name, cfg.URL, cfg.Format, cfg.Headers), nil
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("sink %s: addr required", name)
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
		return NewRedisSink(name, client, cfg.Stream, cfg.MaxLen), nil
	case "kafka":
		return NewKafkaSink(name, cfg.Brokers, cfg.Topic)
	case "memory":
		return NewMemorySink(name), nil
	default:
		return nil, fmt.Errorf("sink %s: unknown kind %q", name, cfg.Kind)
	}
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher drops the event instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
