package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// ReplayFilter holds filtering criteria for reading back a log.
type ReplayFilter struct {
	ToolCallID string    // empty = any
	Tool       string    // empty = any
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
	Last       int       // keep only the last N matches; 0 = all
}

// ReplaySummary holds decision and outcome counts for the replayed entries.
type ReplaySummary struct {
	Total         int       `json:"total"`
	AllowCount    int       `json:"allow_count"`
	BlockCount    int       `json:"block_count"`
	ApprovalCount int       `json:"approval_count"`
	ExecutedCount int       `json:"executed_count"`
	FailedCount   int       `json:"failed_count"`
	DeniedCount   int       `json:"denied_count"`
	FirstTime     time.Time `json:"first_timestamp"`
	LastTime      time.Time `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{}
	_, err = eachLine(f, func(_ int, line []byte) error {
		var entry Entry
		if json.Unmarshal(line, &entry) != nil || !filter.matches(entry) {
			return nil // skip malformed and non-matching lines
		}
		result.Entries = append(result.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Last > 0 && len(result.Entries) > filter.Last {
		result.Entries = result.Entries[len(result.Entries)-filter.Last:]
	}
	for _, e := range result.Entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	switch {
	case f.ToolCallID != "" && e.ToolCallID != f.ToolCallID:
		return false
	case f.Tool != "" && e.Tool != f.Tool:
		return false
	case !f.From.IsZero() && e.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && e.Timestamp.After(f.To):
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	// Each call's decision is counted on the event that created it; later
	// approval events carry APPROVAL_REQUIRED and are not recounted.
	switch {
	case entry.Type == model.EventPending:
		s.ApprovalCount++
	case entry.Type == model.EventBlocked:
		s.BlockCount++
	case entry.Decision == model.Allow && (entry.Type == model.EventExecuted || entry.Type == model.EventFailed):
		s.AllowCount++
	}

	switch entry.Type {
	case model.EventExecuted:
		s.ExecutedCount++
	case model.EventFailed:
		s.FailedCount++
	case model.EventDenied:
		s.DeniedCount++
	}

	if s.FirstTime.IsZero() {
		s.FirstTime = entry.Timestamp
	}
	s.LastTime = entry.Timestamp
}
