package graph

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/adalundhe/switchyard/core/plan"
	"github.com/adalundhe/switchyard/core/routing"
)

// CompilerConfig configures a Compiler.
type CompilerConfig struct {
	Routers *routing.Registry
	Agents  []string
	Cache   Cache

	// Fingerprint identifies the rule table and agent set the graphs were
	// compiled against; it prefixes every cache key.
	Fingerprint string

	// Logger is optional, uses slog.Default() if nil.
	Logger *slog.Logger
}

// Compiler compiles plans through a cache. Concurrent requests for the same
// key share one compilation.
type Compiler struct {
	routers     *routing.Registry
	agents      []string
	cache       Cache
	fingerprint string
	group       singleflight.Group
	logger      *slog.Logger
}

func NewCompiler(cfg CompilerConfig) *Compiler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		routers:     cfg.Routers,
		agents:      append([]string(nil), cfg.Agents...),
		cache:       cfg.Cache,
		fingerprint: cfg.Fingerprint,
		logger:      logger.With("component", "graph"),
	}
}

// Graph returns the compiled graph for p. Cache backend failures are logged
// and the graph is compiled directly.
func (c *Compiler) Graph(ctx context.Context, p plan.Plan) (*Graph, error) {
	key := Key(p, c.fingerprint)

	if c.cache != nil {
		g, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("graph cache get failed", "err", err)
		} else if ok {
			return g, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		g, err := Compile(p, c.routers, c.agents)
		if err != nil {
			return nil, err
		}
		g.Fingerprint = c.fingerprint
		if c.cache != nil {
			if err := c.cache.Set(ctx, key, g); err != nil {
				c.logger.Warn("graph cache set failed", "err", err)
			}
		}
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

// Clear empties the graph cache. Clearing an empty cache is a no-op.
func (c *Compiler) Clear(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}
