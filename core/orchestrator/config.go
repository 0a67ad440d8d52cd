package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adalundhe/switchyard/core/circuit"
	"github.com/adalundhe/switchyard/core/graph"
	"github.com/adalundhe/switchyard/core/intent"
	"github.com/adalundhe/switchyard/core/metrics"
	"github.com/adalundhe/switchyard/core/plan"
	"github.com/adalundhe/switchyard/core/routing"
)

const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultMaxSteps       = 16
	DefaultMaxFallbacks   = 2
	DefaultLockConfidence = 0.95
)

// Config wires a Controller. Classifier and Agents are required; every
// other field has a default.
type Config struct {
	Classifier *intent.Classifier
	Agents     *AgentSet

	Planner   *plan.Planner
	Routers   *routing.Registry
	Breakers  *circuit.Registry
	Graphs    *graph.Compiler
	Fallbacks *routing.FallbackPolicy

	// CallTimeout bounds each agent call.
	CallTimeout time.Duration

	// MaxSteps bounds route evaluations per turn.
	MaxSteps int

	// MaxFallbacks bounds fallback substitutions per turn.
	MaxFallbacks int

	// LockConfidence is the classification confidence at or above which the
	// crud policy locks the data_query route.
	LockConfidence float64

	Metrics *metrics.Metrics

	// Logger is optional, uses slog.Default() if nil.
	Logger *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if c.Classifier == nil {
		return c, fmt.Errorf("orchestrator: classifier is required")
	}
	if c.Agents == nil {
		return c, fmt.Errorf("orchestrator: agent set is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Planner == nil {
		c.Planner = plan.NewPlanner()
	}
	if c.Routers == nil {
		reg, err := routing.BuildDefault()
		if err != nil {
			return c, err
		}
		c.Routers = reg
	}
	if c.Breakers == nil {
		m := c.Metrics
		reg, err := circuit.NewRegistry(circuit.RegistryConfig{
			Default: circuit.DefaultConfig(),
			OnStateChange: func(sc circuit.StateChange) {
				m.BreakerTransition(sc.Key, sc.From.String(), sc.To.String())
			},
			Logger: c.Logger,
		})
		if err != nil {
			return c, err
		}
		c.Breakers = reg
	}
	if c.Graphs == nil {
		c.Graphs = graph.NewCompiler(graph.CompilerConfig{
			Routers:     c.Routers,
			Agents:      c.Agents.Names(),
			Fingerprint: Fingerprint(c.Classifier, c.Agents),
			Logger:      c.Logger,
		})
	}
	if c.Fallbacks == nil {
		c.Fallbacks = routing.DefaultFallbackPolicy()
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxFallbacks <= 0 {
		c.MaxFallbacks = DefaultMaxFallbacks
	}
	if c.LockConfidence <= 0 {
		c.LockConfidence = DefaultLockConfidence
	}
	return c, nil
}

// Fingerprint identifies the rule table and agent set; graph cache keys are
// scoped by it.
func Fingerprint(cl *intent.Classifier, agents *AgentSet) string {
	return cl.Rules().Fingerprint() + ":" + strings.Join(agents.Names(), ",")
}
