package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/citation"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/governance"
	"github.com/ppiankov/sentinel/internal/metrics"
	"github.com/ppiankov/sentinel/internal/policy"
	"github.com/ppiankov/sentinel/internal/redact"
	"github.com/ppiankov/sentinel/internal/router"
	"github.com/ppiankov/sentinel/internal/sink"
)

// Stack is every long-lived component built from a Config.
type Stack struct {
	Config     *config.Config
	Engine     *governance.Engine
	Policy     *policy.Engine
	Graph      *citation.Holder
	Router     *router.Router
	Store      audit.Store
	Dispatcher *sink.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	mu         sync.Mutex
	policyHash string
	closeOnce  sync.Once
	closeErr   error
}

// Build wires a Stack from cfg. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Stack, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{Config: cfg, Metrics: metrics.New(), Logger: logger}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	rs, hash, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	s.Policy = policy.NewEngine(rs)
	s.policyHash = hash

	g, err := citation.LoadGraph(cfg.GraphPath)
	if err != nil {
		return nil, err
	}
	s.Graph = citation.NewHolder(g)

	if cfg.StoreDSN != "" {
		store, err := audit.OpenSQL(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		s.Store = store
	} else {
		s.Store = audit.NewMemoryStore()
	}

	routes := make([]sink.Route, 0, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		sk, err := sink.Build(sc)
		if err != nil {
			for _, r := range routes {
				r.Sink.Close()
			}
			return nil, err
		}
		routes = append(routes, sink.Route{Sink: sk, Events: sc.Events, QueueSize: sc.QueueSize})
	}
	s.Dispatcher = sink.NewDispatcher(routes, sink.WithLogger(logger), sink.WithMetrics(s.Metrics))

	opts := router.Options{
		DispatchTimeout: cfg.DispatchTimeout,
		Classifier: router.Classifier{
			Markers:       cfg.Classifier.Markers,
			CatalogServer: cfg.Classifier.CatalogServer,
		},
		PrefixOverrides: cfg.Classifier.PrefixOverrides,
		Metrics:         s.Metrics,
		Logger:          logger,
	}
	var catalog backend.Backend
	if reg, ok := cfg.CatalogBackend(); ok {
		if catalog, err = backend.Build(reg); err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}
	s.Router = router.New(opts)

	for _, reg := range cfg.Backends {
		var b backend.Backend
		if catalog != nil && reg.Name == catalog.Name() {
			b = catalog
		} else if b, err = backend.Build(reg); err != nil {
			return nil, fmt.Errorf("backend %s: %w", reg.Name, err)
		}
		if _, err := s.Router.Register(reg, b); err != nil {
			return nil, fmt.Errorf("backend %s: %w", reg.Name, err)
		}
	}

	s.Engine, err = governance.New(governance.Config{
		Policy:   s.Policy,
		Graph:    s.Graph,
		Router:   s.Router,
		Recorder: audit.NewRecorder(s.Store, s.Dispatcher, logger),
		Redactor: redact.New(cfg.RedactKeys...),
		Metrics:  s.Metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("governance stack ready",
		"policy_hash", hash,
		"backends", len(cfg.Backends),
		"sinks", len(routes),
		"persistent_store", cfg.StoreDSN != "")
	return s, nil
}

// loadRules reads the policy file and layers the inline prefix rules on top.
func loadRules(cfg *config.Config) (*policy.RuleSet, string, error) {
	rs, hash, err := policy.LoadFileWithHash(cfg.PolicyPath)
	if err != nil {
		return nil, "", err
	}
	rules := rs.Rules()
	if cfg.PrefixRules != "" {
		extra, err := policy.ParseRulesJSON([]byte(cfg.PrefixRules))
		if err != nil {
			return nil, "", err
		}
		rules = append(rules, extra...)
	}
	return policy.NewRuleSet(rules, rs.AllowUnknown() || cfg.AllowUnknownTools), hash, nil
}

// PolicyHash returns the hash of the policy file currently in force.
func (s *Stack) PolicyHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policyHash
}

// ReloadPolicy re-reads the policy and swaps it in whole. A failed reload
// keeps the previous rules.
func (s *Stack) ReloadPolicy() error {
	rs, hash, err := loadRules(s.Config)
	s.Metrics.ObserveReload("policy", err)
	if err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	s.Policy.Swap(rs)
	s.mu.Lock()
	s.policyHash = hash
	s.mu.Unlock()
	return nil
}

// ReloadGraph re-reads the citation graph and swaps it in whole.
func (s *Stack) ReloadGraph() error {
	g, err := citation.LoadGraph(s.Config.GraphPath)
	s.Metrics.ObserveReload("graph", err)
	if err != nil {
		return fmt.Errorf("failed to reload citation graph: %w", err)
	}
	s.Graph.Swap(g)
	return nil
}

// Close drains the sinks, then closes backends and the store.
func (s *Stack) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.Dispatcher != nil {
			errs = append(errs, s.Dispatcher.Close(ctx))
		}
		if s.Router != nil {
			errs = append(errs, s.Router.Close())
		}
		if s.Store != nil {
			errs = append(errs, s.Store.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
