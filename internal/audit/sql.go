package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/model"
)

// Dialect names the SQL backend behind a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS tool_calls (
  id TEXT PRIMARY KEY,
  tool_name TEXT NOT NULL,
  args TEXT NOT NULL,
  args_redacted TEXT NOT NULL,
  created_at TEXT NOT NULL,
  created_ns BIGINT NOT NULL,
  status TEXT NOT NULL,
  approved_at TEXT,
  approved_by TEXT,
  approval_note TEXT,
  result TEXT,
  error TEXT,
  orchestrator TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  decision TEXT NOT NULL,
  reason TEXT NOT NULL,
  risk_score DOUBLE PRECISION NOT NULL,
  rule_id TEXT NOT NULL DEFAULT '',
  policy_citations TEXT NOT NULL,
  control_refs TEXT NOT NULL,
  incident_refs TEXT NOT NULL
)`

const indexes = `CREATE INDEX IF NOT EXISTS idx_tool_calls_status_created ON tool_calls (status, created_ns)`

const columns = `id, tool_name, args, args_redacted, created_at, status, approved_at, approved_by,
  approval_note, result, error, orchestrator, agent_id, decision, reason, risk_score, rule_id,
  policy_citations, control_refs, incident_refs`

// SQLStore is a Store over database/sql, backed by SQLite (modernc.org/sqlite)
// or PostgreSQL (lib/pq).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// ParseDSN picks the dialect for dsn. postgres:// and postgresql:// URLs
// and key=value strings containing "dbname=" select PostgreSQL; anything
// else is a SQLite path, optionally prefixed with "sqlite:".
func ParseDSN(dsn string) (Dialect, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "dbname="):
		return DialectPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return DialectSQLite, strings.TrimPrefix(dsn, "sqlite:")
	default:
		return DialectSQLite, dsn
	}
}

// OpenSQL opens the database named by dsn and applies the schema.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	dialect, source := ParseDSN(dsn)
	db, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One connection serializes writers and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.dialect == DialectSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			return fmt.Errorf("audit: pragma: %w", err)
		}
	}
	for _, stmt := range []string{schema, indexes} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit: apply schema: %w", err)
		}
	}
	return nil
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Insert(ctx context.Context, rec model.Record) error {
	if rec.ToolCall.ID == "" {
		return fmt.Errorf("audit: insert: empty id")
	}
	tc, d := rec.ToolCall, rec.Decision

	args, err := marshalJSON(tc.Args)
	if err != nil {
		return err
	}
	redacted, err := marshalJSON(tc.RedactedArgs)
	if err != nil {
		return err
	}
	policies, _ := marshalJSON(nonNil(d.PolicyCitations))
	controls, _ := marshalJSON(nonNil(d.ControlRefs))
	incidents, _ := marshalJSON(nonNil(d.IncidentRefs))

	created := tc.CreatedAt.UTC()
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO tool_calls (`+columns+`, created_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tc.ID, tc.ToolName, args, redacted, formatTime(created), string(tc.Status),
		nullTime(tc.ApprovedAt), nullString(tc.ApprovedBy), nullString(tc.ApprovalNote),
		nullString(tc.Result), nullString(tc.Error), tc.Orchestrator, tc.AgentID,
		string(d.Kind), d.Reason, d.RiskScore, d.RuleID, policies, controls, incidents,
		created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", tc.ID, err)
	}
	return nil
}

func (s *SQLStore) Transition(ctx context.Context, t approval.Transition) (model.Record, error) {
	var out model.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.get(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		out = cur
		next := cur.Clone()
		if err := approval.Apply(&next, t); err != nil {
			return err
		}

		tc := next.ToolCall
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE tool_calls
SET status = ?, approved_at = ?, approved_by = ?, approval_note = ?, result = ?, error = ?
WHERE id = ? AND status = ?`),
			string(tc.Status), nullTime(tc.ApprovedAt), nullString(tc.ApprovedBy),
			nullString(tc.ApprovalNote), nullString(tc.Result), nullString(tc.Error),
			tc.ID, string(t.From),
		)
		if err != nil {
			return fmt.Errorf("audit: transition %s: %w", t.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("audit: transition %s: %w", t.ID, err)
		}
		if affected == 0 {
			// Lost the race: another transition committed first.
			latest, err := s.get(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			out = latest
			return &approval.ConflictError{ID: t.ID, Current: latest.ToolCall.Status, Attempted: t.To}
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) Get(ctx context.Context, id string) (model.Record, error) {
	return s.get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q queryer, id string) (model.Record, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+columns+` FROM tool_calls WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return rec, err
}

func (s *SQLStore) List(ctx context.Context, f Filter) ([]model.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Tool != "" {
		where = append(where, "tool_name = ?")
		args = append(args, f.Tool)
	}
	query := `SELECT ` + columns + ` FROM tool_calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		query += " ORDER BY created_ns ASC, id ASC"
	} else {
		query += " ORDER BY created_ns DESC, id DESC"
	}
	query += " LIMIT ?"
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.Record, error) {
	var rec model.Record
	var args, redacted, created, status, kind string
	var approvedAt, approvedBy, note, res, errS sql.NullString
	var policies, controls, incidents string
	err := sc.Scan(
		&rec.ToolCall.ID, &rec.ToolCall.ToolName, &args, &redacted, &created, &status,
		&approvedAt, &approvedBy, &note, &res, &errS,
		&rec.ToolCall.Orchestrator, &rec.ToolCall.AgentID,
		&kind, &rec.Decision.Reason, &rec.Decision.RiskScore, &rec.Decision.RuleID,
		&policies, &controls, &incidents,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("audit: scan: %w", err)
	}

	rec.ToolCall.Status = model.Status(status)
	rec.Decision.Kind = model.DecisionKind(kind)
	if rec.ToolCall.CreatedAt, err = parseTime(created); err != nil {
		return rec, err
	}
	if approvedAt.Valid {
		t, err := parseTime(approvedAt.String)
		if err != nil {
			return rec, err
		}
		rec.ToolCall.ApprovedAt = &t
	}
	rec.ToolCall.ApprovedBy = fromNull(approvedBy)
	rec.ToolCall.ApprovalNote = fromNull(note)
	rec.ToolCall.Result = fromNull(res)
	rec.ToolCall.Error = fromNull(errS)

	if err := json.Unmarshal([]byte(args), &rec.ToolCall.Args); err != nil {
		return rec, fmt.Errorf("audit: decode args: %w", err)
	}
	if err := json.Unmarshal([]byte(redacted), &rec.ToolCall.RedactedArgs); err != nil {
		return rec, fmt.Errorf("audit: decode redacted args: %w", err)
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{policies, &rec.Decision.PolicyCitations},
		{controls, &rec.Decision.ControlRefs},
		{incidents, &rec.Decision.IncidentRefs},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return rec, fmt.Errorf("audit: decode citations: %w", err)
		}
		if *f.dst == nil {
			*f.dst = []string{}
		}
	}
	return rec, nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("audit: encode: %w", err)
	}
	return string(data), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
