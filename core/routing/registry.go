package routing

import (
	"fmt"
	"sort"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/signals"
	"github.com/adalundhe/switchyard/core/state"
)

// RouterFunc decides the next token at one route point.
type RouterFunc func(st *state.ExecutionState, sig *signals.Signals) (Token, error)

// =============================================================================
// Builder
// =============================================================================

// Builder collects routing functions before the registry is frozen.
type Builder struct {
	routers map[Point]RouterFunc
}

func NewBuilder() *Builder {
	return &Builder{routers: make(map[Point]RouterFunc)}
}

// Register adds fn under point. Registering a point twice is a setup error.
func (b *Builder) Register(point Point, fn RouterFunc) error {
	if fn == nil {
		return coreerrors.New(coreerrors.KindInvalidRoute, "register", string(point), "nil routing function", nil)
	}
	if _, exists := b.routers[point]; exists {
		return coreerrors.New(coreerrors.KindDuplicateRouter, "register", string(point), "route point already registered", nil)
	}
	b.routers[point] = fn
	return nil
}

// Build freezes the collected routers. The builder stays usable.
func (b *Builder) Build() *Registry {
	routers := make(map[Point]RouterFunc, len(b.routers))
	for p, fn := range b.routers {
		routers[p] = fn
	}
	return &Registry{routers: routers}
}

// =============================================================================
// Registry
// =============================================================================

// Registry is an immutable route point to router mapping, safe for concurrent use.
type Registry struct {
	routers map[Point]RouterFunc
}

// Route evaluates the router registered for point.
func (r *Registry) Route(point Point, st *state.ExecutionState, sig *signals.Signals) (Token, error) {
	fn, ok := r.routers[point]
	if !ok {
		return "", coreerrors.New(coreerrors.KindRouterNotFound, "route", string(point), "no router registered", nil)
	}
	tok, err := fn(st, sig)
	if err != nil {
		return "", fmt.Errorf("route %s: %w", point, err)
	}
	if !tok.Valid() {
		return "", coreerrors.New(coreerrors.KindInvalidRoute, "route", string(point),
			fmt.Sprintf("token %q outside vocabulary", tok), nil)
	}
	return tok, nil
}

func (r *Registry) Has(point Point) bool {
	_, ok := r.routers[point]
	return ok
}

// Points returns the registered route points, sorted.
func (r *Registry) Points() []Point {
	out := make([]Point, 0, len(r.routers))
	for p := range r.routers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
