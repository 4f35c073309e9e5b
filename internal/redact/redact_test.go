package redact

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSecretKeysMasked(t *testing.T) {
	r := New()
	out := r.Args(map[string]any{
		"password":   "hunter2",
		"API_TOKEN":  "abc",
		"client_key": 12345,
		"path":       "/sandbox/a.txt",
	})
	for _, k := range []string{"password", "API_TOKEN", "client_key"} {
		if out[k] != Placeholder {
			t.Errorf("%s: expected placeholder, got %v", k, out[k])
		}
	}
	if out["path"] != "/sandbox/a.txt" {
		t.Errorf("expected path untouched, got %v", out["path"])
	}
}

func TestSecretPathsMasked(t *testing.T) {
	r := New()
	tests := []struct {
		in   string
		want string
	}{
		{"/app/.env", PathPlaceholder},
		{"/app/.env.local", PathPlaceholder},
		{"/etc/tls/server.key", PathPlaceholder},
		{"/etc/tls/server.pem", PathPlaceholder},
		{"/etc/tls/server.pem.bak", "/etc/tls/server.pem.bak"},
		{"/sandbox/notes.txt", "/sandbox/notes.txt"},
	}
	for _, tt := range tests {
		out := r.Args(map[string]any{"path": tt.in})
		if out["path"] != tt.want {
			t.Errorf("%q: got %v, want %v", tt.in, out["path"], tt.want)
		}
	}
}

func TestNestedShapes(t *testing.T) {
	r := New()
	in := map[string]any{
		"config": map[string]any{
			"db": map[string]any{"password": "p@ss", "host": "db.internal"},
		},
		"headers": []any{
			map[string]any{"name": "Authorization", "token": "bearer xyz"},
			"plain",
		},
		"secrets": []any{"a", "b"},
	}
	out := r.Args(in)

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"p@ss", "bearer xyz", `"a"`, `"b"`} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("redacted output leaked %s: %s", secret, raw)
		}
	}
	db := out["config"].(map[string]any)["db"].(map[string]any)
	if db["host"] != "db.internal" {
		t.Errorf("expected non-secret nested value kept, got %v", db["host"])
	}
	if out["secrets"] != Placeholder {
		t.Errorf("expected secret-named array replaced whole, got %v", out["secrets"])
	}
}

func TestInputNotModified(t *testing.T) {
	in := map[string]any{"password": "x", "nested": map[string]any{"token": "y"}}
	New().Args(in)
	if in["password"] != "x" || in["nested"].(map[string]any)["token"] != "y" {
		t.Error("input map was modified")
	}
}

func TestExtraKeys(t *testing.T) {
	r := New("ssn", "  ")
	out := r.Args(map[string]any{"user_ssn": "123-45-6789", "name": "n"})
	if out["user_ssn"] != Placeholder {
		t.Errorf("expected extra key masked, got %v", out["user_ssn"])
	}
	if out["name"] != "n" {
		t.Errorf("expected name kept, got %v", out["name"])
	}
}

func TestInlineCredentials(t *testing.T) {
	got := String("connect with password=hunter2 please")
	if strings.Contains(got, "hunter2") {
		t.Errorf("inline credential leaked: %q", got)
	}
	if !strings.Contains(got, "password="+Placeholder) {
		t.Errorf("expected key kept with placeholder, got %q", got)
	}
}

func TestNilArgs(t *testing.T) {
	out := New().Args(nil)
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty map, got %v", out)
	}
}

type dbConfig struct {
	Host     string `json:"host"`
	Password string `json:"password"`
}

type pathArg string

func TestTypedShapes(t *testing.T) {
	out := New().Args(map[string]any{
		"config":  map[string]string{"api_token": "s3cr3t-A", "region": "eu"},
		"headers": []map[string]any{{"password": "s3cr3t-B"}},
		"list":    []string{"/app/.env", "/sandbox/ok.txt"},
		"db":      &dbConfig{Host: "db.internal", Password: "s3cr3t-C"},
		"file":    pathArg("/etc/tls/server.key"),
		"ports":   []int{80, 443},
		"bad":     map[string]any{"ch": make(chan int)},
	})

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"s3cr3t-A", "s3cr3t-B", "s3cr3t-C", "/app/.env", "server.key"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("redacted output leaked %s: %s", secret, raw)
		}
	}
	for _, kept := range []string{`"region":"eu"`, `"host":"db.internal"`, "/sandbox/ok.txt", "[80,443]"} {
		if !strings.Contains(string(raw), kept) {
			t.Errorf("expected %s kept: %s", kept, raw)
		}
	}
	if out["bad"].(map[string]any)["ch"] != Placeholder {
		t.Errorf("unencodable value should be masked, got %v", out["bad"])
	}
}
