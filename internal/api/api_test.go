package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/server"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.PolicyPath = filepath.Join(t.TempDir(), "policy.yaml")
	stack, err := server.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ts := httptest.NewServer(NewRouter(stack.Engine, stack.Metrics, nil))
	t.Cleanup(func() {
		ts.Close()
		stack.Close(context.Background())
	})
	return ts
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(data)) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
	return resp.StatusCode, out
}

func TestProposeAndFetch(t *testing.T) {
	ts := newTestAPI(t)

	code, body := do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{"tool":"fs.read_file","args":{"path":"/sandbox/hello.txt"}}`)
	if code != http.StatusOK {
		t.Fatalf("status %d: %v", code, body)
	}
	if body["decision"] != "ALLOW" || body["status"] != "EXECUTED" || body["result"] != "Hello from mock backend." {
		t.Errorf("unexpected proposal %v", body)
	}
	id, _ := body["tool_call_id"].(string)

	code, rec := do(t, http.MethodGet, ts.URL+"/v1/tool-calls/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	tc := rec["tool_call"].(map[string]any)
	if tc["id"] != id {
		t.Errorf("unexpected record %v", rec)
	}

	code, _ = do(t, http.MethodGet, ts.URL+"/v1/tool-calls/missing", "")
	if code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	code, list := do(t, http.MethodGet, ts.URL+"/v1/tool-calls?limit=5", "")
	if code != http.StatusOK || len(list["tool_calls"].([]any)) != 1 {
		t.Errorf("unexpected list %d %v", code, list)
	}
}

func TestProposeValidation(t *testing.T) {
	ts := newTestAPI(t)
	if code, _ := do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{not json`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", code)
	}
	if code, _ := do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{"args":{}}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing tool, got %d", code)
	}
	if code, _ := do(t, http.MethodGet, ts.URL+"/v1/approvals/pending?limit=abc", ""); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", code)
	}
}

func TestApproveDenyFlow(t *testing.T) {
	ts := newTestAPI(t)

	_, first := do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{"tool":"fs.write_file","args":{"path":"/sandbox/a.txt","content":"x"}}`)
	_, second := do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{"tool":"fs.write_file","args":{"path":"/sandbox/b.txt","content":"y"}}`)
	if first["status"] != "PENDING" || second["status"] != "PENDING" {
		t.Fatalf("expected PENDING, got %v / %v", first, second)
	}

	code, pending := do(t, http.MethodGet, ts.URL+"/v1/approvals/pending", "")
	calls := pending["tool_calls"].([]any)
	if code != http.StatusOK || len(calls) != 2 {
		t.Fatalf("unexpected pending %d %v", code, pending)
	}
	oldest := calls[0].(map[string]any)["tool_call"].(map[string]any)["id"]
	if oldest != first["tool_call_id"] {
		t.Errorf("pending not oldest first")
	}

	code, res := do(t, http.MethodPost, ts.URL+"/v1/tool-calls/"+first["tool_call_id"].(string)+"/approve", `{"approver":"carol","note":"fine"}`)
	if code != http.StatusOK || res["status"] != "EXECUTED" || res["approved_by"] != "carol" {
		t.Errorf("unexpected approve %d %v", code, res)
	}

	// Empty body is accepted for deny.
	code, res = do(t, http.MethodPost, ts.URL+"/v1/tool-calls/"+second["tool_call_id"].(string)+"/deny", "")
	if code != http.StatusOK || res["status"] != "DENIED" || res["approved_by"] != "manual" {
		t.Errorf("unexpected deny %d %v", code, res)
	}

	code, _ = do(t, http.MethodPost, ts.URL+"/v1/tool-calls/"+second["tool_call_id"].(string)+"/approve", "")
	if code != http.StatusConflict {
		t.Errorf("expected 409 on resolved call, got %d", code)
	}
}

func TestServersEndpoints(t *testing.T) {
	ts := newTestAPI(t)

	code, reg := do(t, http.MethodPost, ts.URL+"/v1/mcp/servers", `{"name":"gh","base_url":"https://mcp.example.com/mcp","tool_prefix":"gh.","auth_token":"secret"}`)
	if code != http.StatusOK || reg["name"] != "gh" {
		t.Fatalf("register %d %v", code, reg)
	}
	if _, leaked := reg["auth_token"]; leaked {
		t.Error("auth token serialized")
	}
	if code, _ := do(t, http.MethodPost, ts.URL+"/v1/mcp/servers", `{"name":"x","base_url":"ftp://x"}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad url, got %d", code)
	}

	code, servers := do(t, http.MethodGet, ts.URL+"/v1/mcp/servers", "")
	if code != http.StatusOK || len(servers["servers"].([]any)) != 2 {
		t.Errorf("unexpected servers %v", servers)
	}

	code, synced := do(t, http.MethodPost, ts.URL+"/v1/mcp/servers/local/sync", "")
	if code != http.StatusOK || synced["tool_count"] != float64(3) {
		t.Errorf("unexpected sync %d %v", code, synced)
	}
	code, tools := do(t, http.MethodGet, ts.URL+"/v1/mcp/servers/local/tools", "")
	if code != http.StatusOK || len(tools["tools"].([]any)) != 3 {
		t.Errorf("unexpected tools %v", tools)
	}
	if code, _ := do(t, http.MethodPost, ts.URL+"/v1/mcp/servers/ghost/sync", ""); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown server, got %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestAPI(t)
	if code, body := do(t, http.MethodGet, ts.URL+"/healthz", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz %d %v", code, body)
	}

	do(t, http.MethodPost, ts.URL+"/v1/tool-calls", `{"tool":"fs.list_dir","args":{"path":"/sandbox"}}`)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `sentinel_tool_calls_total{decision="ALLOW",tool="fs.list_dir"} 1`) {
		t.Errorf("metrics missing tool call counter:\n%s", data)
	}
}
