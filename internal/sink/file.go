package sink

import (
	"context"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/model"
)

// FileSink appends events to a hash-chained JSONL audit log.
type FileSink struct {
	name string
	log  *audit.Log
}

// NewFileSink opens (or creates) the log at path.
func NewFileSink(name, path string) (*FileSink, error) {
	l, err := audit.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{name: name, log: l}, nil
}

func (f *FileSink) Name() string { return f.name }

// Path returns the log file path.
func (f *FileSink) Path() string { return f.log.Path() }

func (f *FileSink) Write(_ context.Context, ev model.Event) error {
	return f.log.Append(ev)
}

func (f *FileSink) Close() error { return f.log.Close() }
