package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult reports a chain check. On failure Lines counts the entries
// that verified before ErrorLine.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	ToolCalls int    `json:"tool_calls"`
	Head      string `json:"head"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify checks the audit log at path.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader checks that the first entry links to GenesisHash, that every
// later entry links to the hash of the line before it and that sequence
// numbers count up from 1.
func VerifyReader(r io.Reader) VerifyResult {
	res := VerifyResult{Head: GenesisHash}
	calls := map[string]struct{}{}

	n, err := eachLine(r, func(n int, line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("parse error: %v", err)
		}
		switch {
		case e.PrevHash != res.Head && n == 1:
			return fmt.Errorf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)
		case e.PrevHash != res.Head:
			return fmt.Errorf("hash mismatch: expected %s, got %s", res.Head, e.PrevHash)
		case e.Seq != uint64(n):
			return fmt.Errorf("sequence mismatch: expected %d, got %d", n, e.Seq)
		}
		if e.ToolCallID != "" {
			calls[e.ToolCallID] = struct{}{}
		}
		res.Lines = n
		res.Head = HashLine(line)
		return nil
	})
	if err != nil {
		res.Error = err.Error()
		res.ErrorLine = n
		if n == 0 {
			res.Error = "scan: " + err.Error()
		}
		return res
	}

	res.Valid = true
	res.ToolCalls = len(calls)
	return res
}
