package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/model"
)

// Publisher accepts audit events for asynchronous delivery to sinks.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Recorder persists decisions and fans each successful write out to sinks.
// Store errors are returned to the caller; publish errors are logged only,
// since the record is already durable.
type Recorder struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
}

// NewRecorder wires a Store to an optional Publisher.
func NewRecorder(store Store, pub Publisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, pub: pub, logger: logger}
}

// Record persists call and its decision as one record, then emits
// tool.proposed followed by the event for the record's initial status.
func (r *Recorder) Record(ctx context.Context, call model.ToolCall, d model.Decision) (model.Record, error) {
	rec := model.Record{ToolCall: call, Decision: d}
	if err := r.store.Insert(ctx, rec); err != nil {
		return model.Record{}, fmt.Errorf("record decision: %w", err)
	}
	r.emit(ctx, model.EventForRecord(model.EventProposed, rec))
	r.emit(ctx, model.EventForRecord(model.EventTypeFor(rec.ToolCall.Status), rec))
	return rec.Clone(), nil
}

// ApplyApproval persists t and emits the event for the new status. A
// conflict is returned unchanged and emits nothing.
func (r *Recorder) ApplyApproval(ctx context.Context, t approval.Transition) (model.Record, error) {
	rec, err := r.store.Transition(ctx, t)
	if err != nil {
		return rec, err
	}
	r.emit(ctx, model.EventForRecord(model.EventTypeFor(rec.ToolCall.Status), rec))
	return rec, nil
}

// Get returns the record for id.
func (r *Recorder) Get(ctx context.Context, id string) (model.Record, error) {
	return r.store.Get(ctx, id)
}

// List returns records matching f.
func (r *Recorder) List(ctx context.Context, f Filter) ([]model.Record, error) {
	return r.store.List(ctx, f)
}

// Emit publishes an event that is not tied to a stored record, such as a
// tool sync.
func (r *Recorder) Emit(ctx context.Context, ev model.Event) {
	r.emit(ctx, ev)
}

func (r *Recorder) emit(ctx context.Context, ev model.Event) {
	if r.pub == nil {
		return
	}
	// Delivery must not be abandoned because the caller went away.
	if err := r.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("audit event not published",
			"type", ev.Type, "tool_call_id", ev.ToolCallID, "error", err)
	}
}
