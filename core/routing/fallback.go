package routing

import (
	"fmt"

	"github.com/gobwas/glob"
)

// FallbackRule maps agents whose name matches Agent (a glob) to Route.
type FallbackRule struct {
	Agent string `yaml:"agent" json:"agent"`
	Route Token  `yaml:"route" json:"route"`
}

// DefaultFallbackRules sends failed agents to synthesis and ends the turn when
// synthesis or the unknown handler itself is unavailable.
func DefaultFallbackRules() []FallbackRule {
	return []FallbackRule{
		{Agent: string(TokenSynthesis), Route: TokenFinal},
		{Agent: string(TokenUnknown), Route: TokenFinal},
		{Agent: "*", Route: TokenSynthesis},
	}
}

type compiledFallback struct {
	pattern glob.Glob
	route   Token
}

// FallbackPolicy picks the route taken when an agent cannot be called.
// Rules are tried in order; the defaults are appended after caller rules.
type FallbackPolicy struct {
	rules []compiledFallback
}

func NewFallbackPolicy(rules []FallbackRule) (*FallbackPolicy, error) {
	all := append(append([]FallbackRule(nil), rules...), DefaultFallbackRules()...)
	p := &FallbackPolicy{rules: make([]compiledFallback, 0, len(all))}
	for _, r := range all {
		if !r.Route.Valid() {
			return nil, fmt.Errorf("fallback for %q: invalid route %q", r.Agent, r.Route)
		}
		g, err := glob.Compile(r.Agent)
		if err != nil {
			return nil, fmt.Errorf("fallback pattern %q: %w", r.Agent, err)
		}
		p.rules = append(p.rules, compiledFallback{pattern: g, route: r.Route})
	}
	return p, nil
}

// DefaultFallbackPolicy uses only the default rules.
func DefaultFallbackPolicy() *FallbackPolicy {
	p, err := NewFallbackPolicy(nil)
	if err != nil {
		panic(err)
	}
	return p
}

// For returns the fallback route for agent.
func (p *FallbackPolicy) For(agent string) Token {
	for _, r := range p.rules {
		if r.pattern.Match(agent) {
			return r.route
		}
	}
	return TokenFinal
}
