package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/metrics"
	"github.com/ppiankov/sentinel/internal/model"
)

// DefaultQueueSize is the per-sink buffer used when none is configured.
const DefaultQueueSize = 256

// ErrClosed is returned by Publish after Close has started.
var ErrClosed = errors.New("sink dispatcher closed")

// Route binds a sink to its event filter and queue size.
type Route struct {
	Sink      Sink
	Events    []string // empty matches every event
	QueueSize int
}

type queue struct {
	route Route
	ch    chan model.Event
}

// Dispatcher fans audit events out to sinks. Each sink has its own bounded
// queue and worker, so a slow or failing sink never delays another one.
// Publish blocks while a matching queue is full. Failed deliveries are
// retried with backoff until they succeed or the dispatcher is closed.
type Dispatcher struct {
	queues  []*queue
	logger  *slog.Logger
	metrics *metrics.Metrics

	minBackoff time.Duration
	maxBackoff time.Duration

	mu       sync.RWMutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records queue depth and delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBackoff sets the retry backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(d *Dispatcher) {
		d.minBackoff = min
		d.maxBackoff = max
	}
}

// NewDispatcher starts one worker per route.
func NewDispatcher(routes []Route, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:     slog.Default(),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	for _, r := range routes {
		size := r.QueueSize
		if size <= 0 {
			size = DefaultQueueSize
		}
		q := &queue{route: r, ch: make(chan model.Event, size)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.run(q)
	}
	return d
}

// Publish enqueues ev on every matching sink queue. It blocks while a queue
// is full and returns early if ctx is done or the dispatcher closes.
func (d *Dispatcher) Publish(ctx context.Context, ev model.Event) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	for _, q := range d.queues {
		if !matches(q.route.Events, ev) {
			continue
		}
		select {
		case q.ch <- ev:
			d.metrics.SetQueueDepth(q.route.Sink.Name(), len(q.ch))
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return ErrClosed
		}
	}
	return nil
}

// Close stops accepting events, drains queued events and closes every sink.
// Deliveries still failing once Close has begun are dropped after their
// current attempt. Close returns ctx.Err() if draining outlives ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.stopOnce.Do(func() {
		close(d.stop)
		d.mu.Lock()
		d.closed = true
		for _, q := range d.queues {
			close(q.ch)
		}
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.closeOnce.Do(func() {
		var errs []error
		for _, q := range d.queues {
			if err := q.route.Sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

func (d *Dispatcher) run(q *queue) {
	defer d.wg.Done()
	name := q.route.Sink.Name()
	for ev := range q.ch {
		d.metrics.SetQueueDepth(name, len(q.ch))
		d.deliver(q.route.Sink, ev)
	}
}

func (d *Dispatcher) deliver(s Sink, ev model.Event) {
	name := s.Name()
	backoff := d.minBackoff
	for {
		err := s.Write(context.Background(), ev)
		if err == nil {
			d.metrics.ObserveDelivery(name, "ok")
			return
		}
		if IsPermanent(err) {
			d.metrics.ObserveDelivery(name, "dropped")
			d.logger.Error("audit sink rejected event",
				"sink", name, "type", ev.Type, "tool_call_id", ev.ToolCallID, "error", err)
			return
		}
		if d.stopping() {
			d.metrics.ObserveDelivery(name, "dropped")
			d.logger.Error("audit event dropped on shutdown",
				"sink", name, "type", ev.Type, "tool_call_id", ev.ToolCallID, "error", err)
			return
		}

		d.metrics.ObserveDelivery(name, "retry")
		d.logger.Warn("audit sink write failed, retrying",
			"sink", name, "type", ev.Type, "backoff", backoff, "error", err)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-d.stop:
			t.Stop()
		}
		backoff *= 2
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
	}
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// matches reports whether ev passes the filter. Entries match the event
// type ("tool.blocked") or the decision ("BLOCK").
func matches(events []string, ev model.Event) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == ev.Type {
			return true
		}
		if ev.Decision != "" && e == string(ev.Decision) {
			return true
		}
	}
	return false
}
