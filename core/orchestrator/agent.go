// Package orchestrator runs one conversational turn: classify, plan, seed
// routing signals, then walk the compiled graph calling agents behind their
// circuit breakers.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/adalundhe/switchyard/core/state"
)

// Request is what an agent receives. State is a snapshot; agents must not
// expect their writes to it to be kept.
type Request struct {
	Message   string
	SessionID string
	TurnID    string
	State     *state.ExecutionState
}

// Response is an agent's output.
type Response struct {
	Text     string
	Metadata map[string]any
}

// Agent is one node of the pipeline. Run must return promptly once ctx is done.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (Response, error)
}

type funcAgent struct {
	name string
	fn   func(ctx context.Context, req Request) (Response, error)
}

// AgentFunc wraps fn as an Agent called name.
func AgentFunc(name string, fn func(ctx context.Context, req Request) (Response, error)) Agent {
	return &funcAgent{name: name, fn: fn}
}

func (a *funcAgent) Name() string { return a.name }

func (a *funcAgent) Run(ctx context.Context, req Request) (Response, error) {
	return a.fn(ctx, req)
}

// AgentSet is an immutable name to agent lookup.
type AgentSet struct {
	agents map[string]Agent
}

func NewAgentSet(agents ...Agent) (*AgentSet, error) {
	s := &AgentSet{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a == nil || a.Name() == "" {
			return nil, fmt.Errorf("agent set: agent with empty name")
		}
		if _, exists := s.agents[a.Name()]; exists {
			return nil, fmt.Errorf("agent set: duplicate agent %q", a.Name())
		}
		s.agents[a.Name()] = a
	}
	return s, nil
}

func (s *AgentSet) Get(name string) (Agent, bool) {
	a, ok := s.agents[name]
	return a, ok
}

// Names returns the agent names, sorted.
func (s *AgentSet) Names() []string {
	out := make([]string, 0, len(s.agents))
	for name := range s.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
