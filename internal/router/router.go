// Package router maps namespaced tool names to execution backends and
// dispatches calls to them.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/metrics"
	"github.com/ppiankov/sentinel/internal/model"
)

// DefaultDispatchTimeout bounds a single backend call.
const DefaultDispatchTimeout = 10 * time.Second

var (
	// ErrUnknownServer is returned when a server name is not registered.
	ErrUnknownServer = errors.New("unknown mcp server")
	// ErrInvalidArguments is returned when arguments fail the tool's schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

type entry struct {
	reg     model.BackendRegistration
	backend backend.Backend
	tools   []model.ToolContract
}

type contract struct {
	model.ToolContract
	schema *jsonschema.Resolved
}

// snapshot is immutable once published.
type snapshot struct {
	entries   []*entry // registration order
	byPrefix  []*entry // longest prefix first
	contracts map[string]contract
}

// Options configures a Router.
type Options struct {
	DispatchTimeout time.Duration
	Classifier      Classifier
	// PrefixOverrides maps server names to prefixes for servers first seen
	// through Sync on the shared catalogue.
	PrefixOverrides map[string]string
	// Catalog, when set, is a shared backend (typically one stdio gateway)
	// that Sync falls back to for servers not registered explicitly.
	Catalog backend.Backend
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Router resolves tool names by longest registered namespace prefix.
// Reads work on one immutable snapshot; writers serialize on mu and swap a
// new snapshot in.
type Router struct {
	snap atomic.Pointer[snapshot]
	mu   sync.Mutex

	opts   Options
	logger *slog.Logger
}

// New creates an empty router.
func New(opts Options) *Router {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{opts: opts, logger: logger}
	r.snap.Store(&snapshot{contracts: map[string]contract{}})
	return r
}

// Register adds reg or replaces the existing registration with the same
// name or the same prefix. The replaced backend is closed unless it is
// still in use.
func (r *Router) Register(reg model.BackendRegistration, b backend.Backend) (model.BackendRegistration, error) {
	if strings.TrimSpace(reg.Name) == "" {
		return model.BackendRegistration{}, fmt.Errorf("server name required")
	}
	if b == nil {
		return model.BackendRegistration{}, fmt.Errorf("server %s: backend required", reg.Name)
	}
	reg.ToolPrefix = norm.NFC.String(reg.ToolPrefix)
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load()

	next := make([]*entry, 0, len(old.entries)+1)
	var replaced []*entry
	inserted := false
	for _, e := range old.entries {
		if e.reg.Name == reg.Name || e.reg.ToolPrefix == reg.ToolPrefix {
			replaced = append(replaced, e)
			if !inserted {
				reg.CreatedAt = e.reg.CreatedAt
				next = append(next, &entry{reg: reg, backend: b})
				inserted = true
			}
			continue
		}
		next = append(next, e)
	}
	if !inserted {
		next = append(next, &entry{reg: reg, backend: b})
	}
	r.publish(next)

	for _, e := range replaced {
		if e.backend != b && !r.inUse(e.backend) {
			if err := e.backend.Close(); err != nil {
				r.logger.Warn("close replaced backend", "server", e.reg.Name, "error", err)
			}
		}
	}
	r.logger.Info("mcp server registered", "server", reg.Name, "prefix", reg.ToolPrefix, "kind", reg.Kind)
	return reg, nil
}

// Sync pulls the tool list of server and records its namespaced tools.
// Servers backed by a shared stream catalogue get their slice of it through
// the classifier. An unregistered server is registered on the shared
// catalogue when one is configured.
func (r *Router) Sync(ctx context.Context, server string) (int, error) {
	e, ok := r.entry(server)
	if !ok {
		if r.opts.Catalog == nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownServer, server)
		}
		reg := model.BackendRegistration{
			Name:       server,
			Kind:       model.BackendStream,
			ToolPrefix: DefaultPrefix(server, r.opts.PrefixOverrides),
		}
		if _, err := r.Register(reg, r.opts.Catalog); err != nil {
			return 0, err
		}
		e, _ = r.entry(server)
	}

	tools, err := e.backend.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync %s: %w", server, err)
	}
	if e.reg.Kind == model.BackendStream {
		tools = r.opts.Classifier.Filter(server, tools)
	}
	prefix := e.reg.ToolPrefix
	if prefix == "" && e.reg.Kind == model.BackendStream {
		prefix = DefaultPrefix(server, r.opts.PrefixOverrides)
	}
	contracts := Namespace(server, prefix, tools)

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load()
	next := make([]*entry, 0, len(old.entries))
	found := false
	for _, cur := range old.entries {
		if cur.reg.Name == server {
			cp := *cur
			cp.tools = contracts
			next = append(next, &cp)
			found = true
			continue
		}
		next = append(next, cur)
	}
	if !found {
		return 0, fmt.Errorf("%w: %s was removed during sync", ErrUnknownServer, server)
	}
	r.publish(next)
	r.logger.Info("mcp tools synced", "server", server, "count", len(contracts))
	return len(contracts), nil
}

// Resolve returns the registration owning tool.
func (r *Router) Resolve(tool string) (model.BackendRegistration, error) {
	e, err := r.resolve(tool)
	if err != nil {
		return model.BackendRegistration{}, err
	}
	return e.reg, nil
}

// Validate checks args against the input schema recorded for tool by Sync.
// Tools without a recorded schema always pass.
func (r *Router) Validate(tool string, args map[string]any) error {
	c, ok := r.snap.Load().contracts[norm.NFC.String(tool)]
	if !ok || c.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := c.schema.Validate(jsonValue(args)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, tool, err)
	}
	return nil
}

// Dispatch resolves tool, strips its namespace and invokes the backend
// under the dispatch timeout.
func (r *Router) Dispatch(ctx context.Context, tool string, args map[string]any) (backend.Result, error) {
	snap := r.snap.Load()
	e, err := resolveIn(snap, tool)
	if err != nil {
		return backend.Result{}, err
	}
	name := norm.NFC.String(tool)
	raw := strings.TrimPrefix(name, e.reg.ToolPrefix)
	if c, ok := snap.contracts[name]; ok && c.Server == e.reg.Name {
		raw = c.RawName
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.backend.Invoke(ctx, raw, args)
	r.opts.Metrics.ObserveDispatch(e.reg.Name, dispatchOutcome(err), time.Since(start))
	if err != nil {
		return backend.Result{}, err
	}
	return res, nil
}

// Servers returns registrations in registration order.
func (r *Router) Servers() []model.BackendRegistration {
	snap := r.snap.Load()
	out := make([]model.BackendRegistration, len(snap.entries))
	for i, e := range snap.entries {
		out[i] = e.reg
	}
	return out
}

// Tools returns the synced tools of server.
func (r *Router) Tools(server string) ([]model.ToolContract, error) {
	e, ok := r.entry(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return append([]model.ToolContract{}, e.tools...), nil
}

// Contract returns the synced contract for a namespaced tool.
func (r *Router) Contract(tool string) (model.ToolContract, bool) {
	c, ok := r.snap.Load().contracts[norm.NFC.String(tool)]
	return c.ToolContract, ok
}

// Close closes every distinct backend.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[backend.Backend]bool{}
	var errs []error
	for _, e := range r.snap.Load().entries {
		if seen[e.backend] {
			continue
		}
		seen[e.backend] = true
		if err := e.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c := r.opts.Catalog; c != nil && !seen[c] {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) entry(server string) (*entry, bool) {
	for _, e := range r.snap.Load().entries {
		if e.reg.Name == server {
			return e, true
		}
	}
	return nil, false
}

func (r *Router) resolve(tool string) (*entry, error) {
	return resolveIn(r.snap.Load(), tool)
}

func resolveIn(snap *snapshot, tool string) (*entry, error) {
	name := norm.NFC.String(tool)
	for _, e := range snap.byPrefix {
		if strings.HasPrefix(name, e.reg.ToolPrefix) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: no namespace owns %q", backend.ErrUnresolvedBackend, tool)
}

// inUse reports whether b still backs a registration. Caller holds mu.
func (r *Router) inUse(b backend.Backend) bool {
	for _, e := range r.snap.Load().entries {
		if e.backend == b {
			return true
		}
	}
	return false
}

// publish builds indexes for entries and swaps the snapshot. Caller holds mu.
func (r *Router) publish(entries []*entry) {
	byPrefix := append([]*entry{}, entries...)
	sort.SliceStable(byPrefix, func(i, j int) bool {
		return len(byPrefix[i].reg.ToolPrefix) > len(byPrefix[j].reg.ToolPrefix)
	})

	contracts := make(map[string]contract)
	for _, e := range entries {
		for _, tc := range e.tools {
			c := contract{ToolContract: tc}
			if tc.InputSchema != nil {
				s, err := resolveSchema(tc.InputSchema)
				if err != nil {
					r.logger.Warn("tool schema ignored", "tool", tc.Name, "error", err)
				} else {
					c.schema = s
				}
			}
			contracts[norm.NFC.String(tc.Name)] = c
		}
	}
	r.snap.Store(&snapshot{entries: entries, byPrefix: byPrefix, contracts: contracts})
}

func resolveSchema(raw any) (*jsonschema.Resolved, error) {
	var s *jsonschema.Schema
	switch v := raw.(type) {
	case *jsonschema.Schema:
		s = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		s = new(jsonschema.Schema)
		if err := json.Unmarshal(data, s); err != nil {
			return nil, err
		}
	}
	return s.Resolve(nil)
}

// jsonValue round-trips v through JSON so numeric and slice types match
// what the validator expects.
func jsonValue(v map[string]any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func dispatchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, backend.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
