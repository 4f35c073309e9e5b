package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/model"
)

type memEntry struct {
	mu  sync.Mutex
	seq int64
	rec model.Record
}

// MemoryStore is an in-process Store. Each record has its own lock, so
// transitions on different tool calls never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	seq     int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) Insert(_ context.Context, rec model.Record) error {
	if rec.ToolCall.ID == "" {
		return fmt.Errorf("audit: insert: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[rec.ToolCall.ID]; ok {
		return fmt.Errorf("audit: insert: duplicate id %s", rec.ToolCall.ID)
	}
	s.seq++
	s.entries[rec.ToolCall.ID] = &memEntry{seq: s.seq, rec: rec.Clone()}
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, t approval.Transition) (model.Record, error) {
	s.mu.RLock()
	e, ok := s.entries[t.ID]
	s.mu.RUnlock()
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", approval.ErrNotFound, t.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.rec.Clone()
	if err := approval.Apply(&next, t); err != nil {
		return e.rec.Clone(), err
	}
	e.rec = next
	return next.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Record, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.Record, error) {
	type row struct {
		seq int64
		rec model.Record
	}
	s.mu.RLock()
	rows := make([]row, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		if (f.Status == "" || e.rec.ToolCall.Status == f.Status) && (f.Tool == "" || e.rec.ToolCall.ToolName == f.Tool) {
			rows = append(rows, row{seq: e.seq, rec: e.rec.Clone()})
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.rec.ToolCall.CreatedAt.Equal(b.rec.ToolCall.CreatedAt) {
			if f.Ascending {
				return a.rec.ToolCall.CreatedAt.Before(b.rec.ToolCall.CreatedAt)
			}
			return a.rec.ToolCall.CreatedAt.After(b.rec.ToolCall.CreatedAt)
		}
		if f.Ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})

	if n := f.limit(); len(rows) > n {
		rows = rows[:n]
	}
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
