package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/citation"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/policy"
	"github.com/ppiankov/sentinel/internal/router"
	"github.com/ppiankov/sentinel/internal/sink"
)

// countingBackend wraps the mock filesystem and counts invocations.
type countingBackend struct {
	*backend.Static
	calls atomic.Int32
}

func (c *countingBackend) Invoke(ctx context.Context, tool string, args map[string]any) (backend.Result, error) {
	c.calls.Add(1)
	return c.Static.Invoke(ctx, tool, args)
}

type fixture struct {
	engine  *Engine
	backend *countingBackend
	events  *sink.MemorySink
	disp    *sink.Dispatcher
	store   *audit.MemoryStore
}

func scenarioRules() []policy.Rule {
	rules := policy.DefaultRules()
	for i := range rules {
		if rules[i].Prefix == "fs.read_file" {
			rules[i].Guards = append(rules[i].Guards, policy.Guard{
				Arg:      "path",
				Within:   "/sandbox",
				Decision: model.Block,
				Risk:     1,
				Reason:   "path must be under /sandbox",
				PolicyID: "P-SANDBOX-001",
			})
		}
	}
	return rules
}

func newFixture(t *testing.T, rules []policy.Rule) *fixture {
	return newFixtureWithOptions(t, rules, router.Options{})
}

func newFixtureWithOptions(t *testing.T, rules []policy.Rule, opts router.Options) *fixture {
	t.Helper()
	b := &countingBackend{Static: backend.MockFS("local")}
	r := router.New(opts)
	if _, err := r.Register(model.BackendRegistration{Name: "local", Kind: model.BackendStatic, ToolPrefix: "fs."}, b); err != nil {
		t.Fatal(err)
	}

	events := sink.NewMemorySink("memory")
	disp := sink.NewDispatcher([]sink.Route{{Sink: events}})
	store := audit.NewMemoryStore()

	e, err := New(Config{
		Policy:   policy.NewEngine(policy.NewRuleSet(rules, false)),
		Graph:    citation.DefaultGraph(),
		Router:   r,
		Recorder: audit.NewRecorder(store, disp, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{engine: e, backend: b, events: events, disp: disp, store: store}
	t.Cleanup(func() { disp.Close(context.Background()) })
	return f
}

func (f *fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	if err := f.disp.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, ev := range f.events.Events() {
		out = append(out, ev.Type)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func TestProposeAllowExecutes(t *testing.T) {
	f := newFixture(t, []policy.Rule{{Prefix: "fs.", Decision: model.Allow, Risk: 0, Reason: "fs allowed"}})
	ctx := context.Background()

	p, err := f.engine.ProposeToolCall(ctx, "fs.list_dir", map[string]any{"path": "/sandbox"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p.ID == "" || p.Decision != model.Allow || p.Status != model.StatusExecuted {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if p.Result == nil || *p.Result != `["example.txt"]` {
		t.Errorf("expected backend result, got %v", p.Result)
	}
	if f.backend.calls.Load() != 1 {
		t.Errorf("expected 1 dispatch, got %d", f.backend.calls.Load())
	}

	rec, err := f.engine.Get(ctx, p.ID)
	if err != nil || rec.ToolCall.Status != model.StatusExecuted {
		t.Errorf("record not persisted as executed: %+v %v", rec, err)
	}
	types := f.eventTypes(t)
	if len(types) != 2 || types[0] != model.EventProposed || types[1] != model.EventExecuted {
		t.Errorf("unexpected events %v", types)
	}
}

func TestProposeReadOutsideSandboxBlocks(t *testing.T) {
	f := newFixture(t, scenarioRules())

	p, err := f.engine.ProposeToolCall(context.Background(), "fs.read_file", map[string]any{"path": "/etc/passwd"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p.ID == "" {
		t.Fatal("BLOCK must still carry an id")
	}
	if p.Decision != model.Block || p.Status != model.StatusBlocked {
		t.Fatalf("expected BLOCKED, got %+v", p)
	}
	if !contains(p.PolicyCitations, "P-SANDBOX-001") {
		t.Errorf("expected P-SANDBOX-001 citation, got %v", p.PolicyCitations)
	}
	if f.backend.calls.Load() != 0 {
		t.Error("blocked call was dispatched")
	}
}

func TestProposeSecretFileBlocks(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	p, _ := f.engine.ProposeToolCall(context.Background(), "fs.read_file", map[string]any{"path": "/sandbox/.env"})
	if p.Decision != model.Block || p.RuleID != "P-SECRETS-001" {
		t.Fatalf("expected secrets block, got %+v", p)
	}
	if !contains(p.IncidentRefs, "INC-2024-001") || !contains(p.ControlRefs, "C-SECRET-DENYLIST") {
		t.Errorf("missing citations %+v", p)
	}
}

func TestApproveDispatchesAndExecutes(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	ctx := context.Background()

	p, err := f.engine.ProposeToolCall(ctx, "fs.write_file", map[string]any{"path": "/sandbox/a.txt", "content": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != model.StatusPending || p.Decision != model.ApprovalRequired {
		t.Fatalf("expected PENDING, got %+v", p)
	}
	if f.backend.calls.Load() != 0 {
		t.Fatal("pending call was dispatched")
	}

	res, err := f.engine.ApproveToolCall(ctx, p.ID, "looks fine", "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Status != model.StatusExecuted || res.Result == nil || *res.Result != "OK" {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if res.ApprovedBy == nil || *res.ApprovedBy != "alice" || res.ApprovalNote == nil || *res.ApprovalNote != "looks fine" {
		t.Errorf("approval metadata missing %+v", res)
	}
	if f.backend.calls.Load() != 1 {
		t.Errorf("expected 1 dispatch, got %d", f.backend.calls.Load())
	}

	types := f.eventTypes(t)
	want := []string{model.EventProposed, model.EventPending, model.EventApproved, model.EventExecuted}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events %v, want %v", types, want)
	}
}

func TestDenyNeverDispatches(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	ctx := context.Background()

	p, _ := f.engine.ProposeToolCall(ctx, "fs.write_file", map[string]any{"path": "/sandbox/a.txt"})
	res, err := f.engine.DenyToolCall(ctx, p.ID, "not now", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusDenied || *res.ApprovedBy != "manual" {
		t.Errorf("unexpected resolution %+v", res)
	}
	if f.backend.calls.Load() != 0 {
		t.Error("denied call was dispatched")
	}
	rec, err := f.engine.Get(ctx, p.ID)
	if err != nil || rec.ToolCall.Status != model.StatusDenied {
		t.Errorf("denied record not queryable: %v", err)
	}

	// Resolving again conflicts and leaves the status alone.
	if _, err := f.engine.ApproveToolCall(ctx, p.ID, "", ""); !errors.Is(err, ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}
	rec, _ = f.engine.Get(ctx, p.ID)
	if rec.ToolCall.Status != model.StatusDenied {
		t.Errorf("status changed on conflict: %s", rec.ToolCall.Status)
	}
}

func TestResolveUnknownID(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	if _, err := f.engine.ApproveToolCall(context.Background(), "nope", "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentApproveDenyExactlyOneWins(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	ctx := context.Background()
	p, _ := f.engine.ProposeToolCall(ctx, "fs.write_file", map[string]any{"path": "/sandbox/race.txt"})

	const n = 20
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.engine.ApproveToolCall(ctx, p.ID, "", fmt.Sprintf("a%d", i))
			} else {
				_, err = f.engine.DenyToolCall(ctx, p.ID, "", fmt.Sprintf("d%d", i))
			}
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrStateConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != n-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d/%d", n-1, wins.Load(), conflicts.Load())
	}
	if calls := f.backend.calls.Load(); calls > 1 {
		t.Errorf("dispatched %d times", calls)
	}
}

func TestUnresolvedBackendPersistsBlock(t *testing.T) {
	f := newFixture(t, []policy.Rule{{Prefix: "", Decision: model.Allow, Reason: "allow all"}})
	ctx := context.Background()

	p, err := f.engine.ProposeToolCall(ctx, "gh.create_issue", map[string]any{"title": "x"})
	if !errors.Is(err, ErrUnresolvedBackend) {
		t.Fatalf("expected ErrUnresolvedBackend, got %v", err)
	}
	if p == nil || p.ID == "" || p.Decision != model.Block || p.RuleID != RuleUnresolved {
		t.Fatalf("expected persisted BLOCK, got %+v", p)
	}
	rec, err := f.engine.Get(ctx, p.ID)
	if err != nil || rec.ToolCall.Status != model.StatusBlocked {
		t.Errorf("block not persisted: %v", err)
	}
}

func TestInvalidArgumentsBlockBeforeDispatch(t *testing.T) {
	f := newFixture(t, []policy.Rule{{Prefix: "fs.", Decision: model.Allow}})
	ctx := context.Background()
	if _, err := f.engine.SyncMcpTools(ctx, "local"); err != nil {
		t.Fatal(err)
	}

	p, err := f.engine.ProposeToolCall(ctx, "fs.read_file", map[string]any{"path": 42})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
	if p.Decision != model.Block || p.RiskScore != 1 || p.Status != model.StatusBlocked {
		t.Errorf("unexpected proposal %+v", p)
	}
	if f.backend.calls.Load() != 0 {
		t.Error("invalid call was dispatched")
	}
}

func TestDispatchFailureOnAllowPath(t *testing.T) {
	f := newFixture(t, []policy.Rule{{Prefix: "fs.", Decision: model.Allow}})
	f.backend.Handle("explode", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("token=abc123 rejected")
	})

	p, err := f.engine.ProposeToolCall(context.Background(), "fs.explode", nil)
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if p.Status != model.StatusExecutionFailed || p.Error == nil {
		t.Fatalf("expected EXECUTION_FAILED with error, got %+v", p)
	}
	if strings.Contains(*p.Error, "abc123") {
		t.Errorf("error not redacted: %q", *p.Error)
	}
}

func approvalRules() []policy.Rule {
	return []policy.Rule{{Prefix: "fs.", Decision: model.ApprovalRequired, Risk: 0.5, Reason: "writes need approval"}}
}

func requireFailedWithApproval(t *testing.T, f *fixture, id string, res *Resolution) {
	t.Helper()
	if res == nil {
		t.Fatal("expected a persisted resolution")
	}
	if res.Status != model.StatusExecutionFailed || res.Error == nil || *res.Error == "" {
		t.Fatalf("expected EXECUTION_FAILED with error, got %+v", res)
	}
	rec, err := f.engine.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	tc := rec.ToolCall
	if tc.Status != model.StatusExecutionFailed || tc.Error == nil {
		t.Fatalf("stored record not failed: %+v", tc)
	}
	if tc.ApprovedBy == nil || *tc.ApprovedBy != "alice" || tc.ApprovedAt == nil ||
		tc.ApprovalNote == nil || *tc.ApprovalNote != "ship it" {
		t.Errorf("approval metadata lost on failure: %+v", tc)
	}
}

func TestApproveBackendErrorEndsFailed(t *testing.T) {
	f := newFixture(t, approvalRules())
	f.backend.Handle("explode", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk full, password=hunter2")
	})
	ctx := context.Background()

	p, err := f.engine.ProposeToolCall(ctx, "fs.explode", nil)
	if err != nil || p.Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %+v %v", p, err)
	}
	res, err := f.engine.ApproveToolCall(ctx, p.ID, "ship it", "alice")
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	requireFailedWithApproval(t, f, p.ID, res)
	if strings.Contains(*res.Error, "hunter2") {
		t.Errorf("error not redacted: %q", *res.Error)
	}

	types := f.eventTypes(t)
	want := []string{model.EventProposed, model.EventPending, model.EventApproved, model.EventFailed}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events %v, want %v", types, want)
	}
}

func TestApproveDispatchTimeoutEndsFailed(t *testing.T) {
	f := newFixtureWithOptions(t, approvalRules(), router.Options{DispatchTimeout: 20 * time.Millisecond})
	f.backend.Handle("hang", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx := context.Background()

	p, _ := f.engine.ProposeToolCall(ctx, "fs.hang", nil)
	res, err := f.engine.ApproveToolCall(ctx, p.ID, "ship it", "alice")
	if !errors.Is(err, backend.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	requireFailedWithApproval(t, f, p.ID, res)
}

func TestApproveCallerCancelEndsFailed(t *testing.T) {
	f := newFixture(t, approvalRules())
	started := make(chan struct{})
	f.backend.Handle("hang", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p, _ := f.engine.ProposeToolCall(context.Background(), "fs.hang", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res, err := f.engine.ApproveToolCall(ctx, p.ID, "ship it", "alice")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	requireFailedWithApproval(t, f, p.ID, res)
}

func TestRedactedArgsOnlyInEvents(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	ctx := context.Background()
	p, _ := f.engine.ProposeToolCall(ctx, "fs.write_file", map[string]any{
		"path":           "/sandbox/a.txt",
		"api_key":        "sk-live-123",
		"__orchestrator": "langgraph",
	})

	rec, _ := f.engine.Get(ctx, p.ID)
	if rec.ToolCall.Args["api_key"] != "sk-live-123" {
		t.Error("raw args must be kept for dispatch")
	}
	if _, ok := rec.ToolCall.Args["__orchestrator"]; ok {
		t.Error("metadata key leaked into tool args")
	}
	if rec.ToolCall.Orchestrator != "langgraph" || rec.ToolCall.AgentID != "manual" {
		t.Errorf("metadata not captured: %+v", rec.ToolCall)
	}

	f.eventTypes(t)
	for _, ev := range f.events.Events() {
		if ev.Args["api_key"] == "sk-live-123" {
			t.Fatalf("secret leaked into %s event", ev.Type)
		}
	}
}

func TestPendingApprovalsOldestFirst(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	f.engine.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p, _ := f.engine.ProposeToolCall(ctx, "fs.write_file", map[string]any{"path": fmt.Sprintf("/sandbox/%d", i)})
		ids = append(ids, p.ID)
	}
	f.engine.ProposeToolCall(ctx, "fs.list_dir", map[string]any{"path": "/sandbox"})

	pending, err := f.engine.PendingApprovals(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ToolCall.ID != ids[0] || pending[1].ToolCall.ID != ids[1] {
		t.Errorf("unexpected pending order")
	}
	all, _ := f.engine.Decisions(ctx, 0)
	if len(all) != 4 {
		t.Errorf("expected 4 decisions, got %d", len(all))
	}
}

func TestRegisterAndSyncRemoteServer(t *testing.T) {
	f := newFixture(t, policy.DefaultRules())
	ctx := context.Background()

	if _, err := f.engine.RegisterMcpServer(ctx, "gh", "ftp://nope", "gh.", "", ""); err == nil {
		t.Error("expected invalid URL error")
	}
	reg, err := f.engine.RegisterMcpServer(ctx, "gh", "https://mcp.example.com/mcp", "gh.", "Authorization", "Bearer x")
	if err != nil {
		t.Fatal(err)
	}
	if reg.Kind != model.BackendRemote || reg.AuthToken != "Bearer x" {
		t.Errorf("unexpected registration %+v", reg)
	}
	servers := f.engine.McpServers()
	if len(servers) != 2 || servers[1].Name != "gh" {
		t.Errorf("unexpected servers %+v", servers)
	}

	res, err := f.engine.SyncMcpTools(ctx, "local")
	if err != nil || res.ToolCount != 3 {
		t.Fatalf("sync: %+v %v", res, err)
	}
	tools, _ := f.engine.McpTools("local")
	if tools[0].Name != "fs.list_dir" {
		t.Errorf("unexpected tool %+v", tools[0])
	}
	if _, err := f.engine.SyncMcpTools(ctx, "ghost"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("expected ErrUnknownServer, got %v", err)
	}

	types := f.eventTypes(t)
	if !contains(types, model.EventSynced) {
		t.Errorf("expected sync event, got %v", types)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without collaborators")
	}
}
