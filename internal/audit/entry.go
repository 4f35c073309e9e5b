package audit

import "github.com/ppiankov/sentinel/internal/model"

// Entry is one line in the hash-chained JSONL audit log: the sink event,
// its position in the log and the hash of the previous line.
type Entry struct {
	model.Event
	Seq      uint64 `json:"seq"`
	PrevHash string `json:"prev_hash"`
}
