package audit

import (
	"context"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/model"
)

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 100

// Filter selects records for List.
type Filter struct {
	Status    model.Status // empty = any
	Tool      string       // empty = any
	Limit     int          // <= 0 means DefaultListLimit
	Ascending bool         // oldest first; default newest first
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store persists ToolCall + Decision pairs.
//
// Insert writes a new record and its decision atomically. Transition
// applies an approval transition with compare-and-set on the current
// status: concurrent transitions from the same state succeed exactly once
// and every loser gets an approval.ErrStateConflict error.
type Store interface {
	Insert(ctx context.Context, rec model.Record) error
	Transition(ctx context.Context, t approval.Transition) (model.Record, error)
	Get(ctx context.Context, id string) (model.Record, error)
	List(ctx context.Context, f Filter) ([]model.Record, error)
	Close() error
}
