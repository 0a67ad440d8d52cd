package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/adalundhe/switchyard/agents/llm"
	"github.com/adalundhe/switchyard/agents/roles"
	"github.com/adalundhe/switchyard/core/circuit"
	"github.com/adalundhe/switchyard/core/config"
	"github.com/adalundhe/switchyard/core/graph"
	"github.com/adalundhe/switchyard/core/intent"
	"github.com/adalundhe/switchyard/core/metrics"
	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
	"github.com/adalundhe/switchyard/core/rules"
)

// app is the wired object graph shared by turn and serve.
type app struct {
	controller *orchestrator.Controller
	metrics    *metrics.Metrics
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newClassifier(cfg *config.Config) (*intent.Classifier, error) {
	rs, err := rules.LoadOrDefault(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	return intent.NewClassifier(rs, intent.ClassifierConfig{CacheSize: cfg.Classifier.CacheSize})
}

// newGraphCache returns the configured cache and a function releasing it.
func newGraphCache(ctx context.Context, cfg *config.Config) (graph.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := graph.NewRedisCache(ctx, graph.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { _ = rc.Close() }, nil
	default:
		mc, err := graph.NewMemoryCache(graph.MemoryConfig{
			NumCounters: cfg.Cache.NumCounters,
			MaxCost:     cfg.Cache.MaxCost,
			TTL:         cfg.Cache.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return mc, mc.Close, nil
	}
}

func newDataSource(cfg *config.Config) roles.DataSource {
	if cfg.Data.Backend == "http" {
		return roles.NewHTTPSource(cfg.Data.BaseURL, cfg.Data.Timeout)
	}
	return roles.StaticSource(cfg.Data.Static)
}

// buildApp wires the controller. provider may be nil, in which case one is
// built from the llm config section.
func buildApp(ctx context.Context, cfg *config.Config, provider llm.Provider) (*app, error) {
	logger := slog.Default()
	a := &app{metrics: metrics.New()}

	cl, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	if provider == nil {
		provider, err = llm.New(ctx, cfg.LLMProviderConfig())
		if err != nil {
			return nil, err
		}
	}
	agentList, err := roles.Defaults(provider, newDataSource(cfg), ruleIntents(cl.Rules())...)
	if err != nil {
		return nil, err
	}
	agents, err := orchestrator.NewAgentSet(agentList...)
	if err != nil {
		return nil, err
	}

	routers, err := routing.BuildDefault()
	if err != nil {
		return nil, err
	}
	fallbacks, err := routing.NewFallbackPolicy(cfg.Orchestrator.Fallbacks)
	if err != nil {
		return nil, err
	}

	m := a.metrics
	breakers, err := circuit.NewRegistry(circuit.RegistryConfig{
		Default:   cfg.Circuit.Config,
		Overrides: cfg.Circuit.Overrides,
		OnStateChange: func(sc circuit.StateChange) {
			m.BreakerTransition(sc.Key, sc.From.String(), sc.To.String())
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	cache, release, err := newGraphCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, release)

	graphs := graph.NewCompiler(graph.CompilerConfig{
		Routers:     routers,
		Agents:      agents.Names(),
		Cache:       cache,
		Fingerprint: orchestrator.Fingerprint(cl, agents),
		Logger:      logger,
	})

	a.controller, err = orchestrator.New(orchestrator.Config{
		Classifier:     cl,
		Agents:         agents,
		Routers:        routers,
		Breakers:       breakers,
		Graphs:         graphs,
		Fallbacks:      fallbacks,
		CallTimeout:    cfg.Orchestrator.CallTimeout,
		MaxSteps:       cfg.Orchestrator.MaxSteps,
		MaxFallbacks:   cfg.Orchestrator.MaxFallbacks,
		LockConfidence: cfg.Orchestrator.LockConfidence,
		Metrics:        m,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build controller: %w", err)
	}
	return a, nil
}

// ruleIntents lists the distinct intents of rs, sorted.
func ruleIntents(rs *rules.RuleSet) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rs.Rules() {
		if !seen[r.Intent] {
			seen[r.Intent] = true
			out = append(out, r.Intent)
		}
	}
	sort.Strings(out)
	return out
}
