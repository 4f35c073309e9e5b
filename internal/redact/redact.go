// Package redact produces the argument copy that is safe to persist and
// ship to audit sinks.
package redact

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
)

// Placeholders written in place of redacted values.
const (
	Placeholder     = "***REDACTED***"
	PathPlaceholder = "***REDACTED_PATH***"
)

// DefaultSecretKeys mark a field secret when its lowercased name contains
// any of them.
var DefaultSecretKeys = []string{"password", "secret", "token", "key"}

// secretPathMarkers flag values that point at secret files.
var (
	secretPathContains = []string{".env"}
	secretPathSuffixes = []string{".key", ".pem"}
)

// Inline credentials inside free text, e.g. "password=hunter2".
var credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|auth)[ \t]*[=:][ \t]*)\S+`)

// Redactor masks secret fields in argument trees.
type Redactor struct {
	keys []string
}

// New returns a Redactor using DefaultSecretKeys plus extraKeys.
func New(extraKeys ...string) *Redactor {
	keys := make([]string, 0, len(DefaultSecretKeys)+len(extraKeys))
	for _, k := range append(append([]string{}, DefaultSecretKeys...), extraKeys...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keys = append(keys, k)
		}
	}
	return &Redactor{keys: keys}
}

// Args returns a redacted deep copy of args. The input is not modified.
// Secret-named fields are replaced whole, whatever their shape, at any
// depth of nested objects and arrays.
func (r *Redactor) Args(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return r.object(args)
}

// IsSecretKey reports whether a field named k is treated as secret.
func (r *Redactor) IsSecretKey(k string) bool {
	lk := strings.ToLower(k)
	for _, s := range r.keys {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

func (r *Redactor) object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.IsSecretKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return r.object(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = r.value(e)
		}
		return out
	case string:
		return String(x)
	case nil, bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return v
	}

	// Typed maps, slices, structs and named strings are reduced to their
	// JSON form first so secret keys inside them are seen.
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return String(reflect.ValueOf(v).String())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
		generic, err := toJSONValue(v)
		if err != nil {
			return Placeholder
		}
		return r.value(generic)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return Placeholder
	}
	return v
}

func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// String masks secret file paths and inline credentials in a single value.
func String(s string) string {
	if IsSecretPath(s) {
		return PathPlaceholder
	}
	if credKVRe.MatchString(s) {
		return credKVRe.ReplaceAllString(s, "${1}"+Placeholder)
	}
	return s
}

// IsSecretPath reports whether s names a secret file.
func IsSecretPath(s string) bool {
	for _, m := range secretPathContains {
		if strings.Contains(s, m) {
			return true
		}
	}
	for _, suf := range secretPathSuffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
