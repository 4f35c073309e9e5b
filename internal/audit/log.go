package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// GenesisHash is the prev_hash of the first entry of every log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLineBytes bounds one JSONL entry. Tool arguments can be large.
const maxLineBytes = 4 << 20

// Log appends sink events to a JSONL file. Each line carries a sequence
// number and the hash of the line before it, so an edited, dropped or
// reordered entry breaks the chain at the line that follows it.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	head string
	seq  uint64
}

// Open opens the log at path for appending, creating it and its directory
// if needed. An existing log is walked once to pick up its chain head.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	head, seq, err := chainTail(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Log{path: path, f: f, head: head, seq: seq}, nil
}

// chainTail returns the hash and sequence number of the last line in r.
func chainTail(r io.Reader) (string, uint64, error) {
	head, seq := GenesisHash, uint64(0)
	var last []byte
	if _, err := eachLine(r, func(_ int, line []byte) error {
		last = line
		return nil
	}); err != nil {
		return "", 0, fmt.Errorf("scan existing audit log: %w", err)
	}
	if last != nil {
		head = HashLine(last)
		var e Entry
		if json.Unmarshal(last, &e) == nil {
			seq = e.Seq
		}
	}
	return head, seq, nil
}

// Append writes ev as the next entry and syncs the file.
func (l *Log) Append(ev model.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(Entry{Event: ev, Seq: l.seq + 1, PrevHash: l.head})
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	l.seq++
	l.head = HashLine(line)
	return nil
}

// Head returns the hash of the last written line. Anchoring it elsewhere
// makes truncation of the tail detectable too.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func (l *Log) Path() string { return l.path }

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// HashLine returns "sha256:<hex>" of one log line without its newline.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// eachLine calls fn with every line of r, numbered from 1. fn gets its own
// copy of the bytes. On failure the line number is returned with the error;
// it is 0 when reading itself failed.
func eachLine(r io.Reader, fn func(n int, line []byte) error) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		line := append([]byte(nil), sc.Bytes()...)
		if err := fn(n, line); err != nil {
			return n, err
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
