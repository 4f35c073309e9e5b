package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/model"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type failingStore struct{ *MemoryStore }

func (failingStore) Insert(context.Context, model.Record) error { return errors.New("disk full") }

func TestRecorderEmitsAfterWrites(t *testing.T) {
	pub := &capturePublisher{}
	r := NewRecorder(NewMemoryStore(), pub, nil)
	ctx := context.Background()
	rec := newRecord("tc-1", model.StatusPending, time.Now())

	if _, err := r.Record(ctx, rec.ToolCall, rec.Decision); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ApplyApproval(ctx, approval.Deny("tc-1", "no", "bob", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ApplyApproval(ctx, approval.Approve("tc-1", "", "", time.Now())); !errors.Is(err, approval.ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got := pub.types()
	want := []string{model.EventProposed, model.EventPending, model.EventDenied}
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if pub.events[2].Actor != "bob" {
		t.Errorf("expected actor on deny event, got %q", pub.events[2].Actor)
	}
}

func TestRecorderStoreFailurePropagates(t *testing.T) {
	pub := &capturePublisher{}
	r := NewRecorder(failingStore{NewMemoryStore()}, pub, nil)
	rec := newRecord("tc-1", model.StatusBlocked, time.Now())

	if _, err := r.Record(context.Background(), rec.ToolCall, rec.Decision); err == nil {
		t.Fatal("expected store failure to propagate")
	}
	if len(pub.types()) != 0 {
		t.Error("events emitted for an unpersisted record")
	}
}

func TestRecorderPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &capturePublisher{err: errors.New("dispatcher closed")}
	store := NewMemoryStore()
	r := NewRecorder(store, pub, nil)
	rec := newRecord("tc-1", model.StatusBlocked, time.Now())

	if _, err := r.Record(context.Background(), rec.ToolCall, rec.Decision); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	if _, err := store.Get(context.Background(), "tc-1"); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}
