// Package graph compiles a plan into the routing graph executed by a turn
// and caches compiled graphs.
package graph

import (
	"fmt"
	"sort"
	"strings"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/plan"
	"github.com/adalundhe/switchyard/core/routing"
)

// Node is one agent in the graph and the route point evaluated after it.
type Node struct {
	Token      routing.Token `json:"token"`
	Agent      string        `json:"agent"`
	RoutePoint routing.Point `json:"route_point"`
}

// Graph is immutable once compiled and may be shared between turns.
type Graph struct {
	Pattern     string                 `json:"pattern"`
	Entry       string                 `json:"entry"`
	Nodes       map[routing.Token]Node `json:"nodes"`
	Fingerprint string                 `json:"fingerprint"`
}

// Node returns the node for tok.
func (g *Graph) Node(tok routing.Token) (Node, bool) {
	n, ok := g.Nodes[tok]
	return n, ok
}

// Tokens returns the node tokens in sorted order.
func (g *Graph) Tokens() []routing.Token {
	out := make([]routing.Token, 0, len(g.Nodes))
	for t := range g.Nodes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Compile builds the graph for p. Only planned agents become nodes, and each
// must be a known agent with a token in the route vocabulary.
func Compile(p plan.Plan, reg *routing.Registry, agents []string) (*Graph, error) {
	if reg == nil || !reg.Has(routing.PointEntry) {
		return nil, coreerrors.New(coreerrors.KindRouterNotFound, "compile", string(routing.PointEntry), "registry has no entry router", nil)
	}

	known := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		known[a] = struct{}{}
	}

	g := &Graph{
		Pattern: p.PatternName,
		Entry:   string(routing.PointEntry),
		Nodes:   make(map[routing.Token]Node, len(p.PlannedAgents)),
	}
	if p.EntryPoint != "" {
		g.Entry = p.EntryPoint
	}

	for _, name := range p.PlannedAgents {
		tok := routing.Token(name)
		if !tok.Agent() {
			return nil, coreerrors.New(coreerrors.KindInvalidRoute, "compile", name, "planned agent has no route token", nil)
		}
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("compile %s: agent %q is not registered", p.PatternName, name)
		}
		g.Nodes[tok] = Node{Token: tok, Agent: name, RoutePoint: routing.After(tok)}
	}
	return g, nil
}

// Key identifies a compiled graph for caching.
func Key(p plan.Plan, fingerprint string) string {
	return strings.Join([]string{
		fingerprint,
		p.PatternName,
		p.EntryPoint,
		strings.Join(p.PlannedAgents, ","),
	}, "|")
}
