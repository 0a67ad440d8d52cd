package circuit

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gobwas/glob"
)

// Override replaces the default config for breaker keys matching Pattern.
// Zero fields inherit from the registry default.
type Override struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Config  Config `yaml:"config" json:"config"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Default   Config
	Overrides []Override

	// OnStateChange is called synchronously after each transition, outside
	// the breaker lock.
	OnStateChange func(StateChange)

	// Now is optional, defaults to time.Now.
	Now func() time.Time

	// Logger is optional, uses slog.Default() if nil.
	Logger *slog.Logger
}

type compiledOverride struct {
	pattern glob.Glob
	config  Config
}

// Registry owns one breaker per key, created on first use.
type Registry struct {
	def       Config
	overrides []compiledOverride
	breakers  *shardedBreakers
	now       func() time.Time
	onChange  func(StateChange)
	logger    *slog.Logger
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		def:      cfg.Default.withDefaults(),
		breakers: newShardedBreakers(),
		now:      cfg.Now,
		onChange: cfg.OnStateChange,
		logger:   logger.With("component", "circuit"),
	}
	for _, o := range cfg.Overrides {
		g, err := glob.Compile(o.Pattern)
		if err != nil {
			return nil, fmt.Errorf("breaker override %q: %w", o.Pattern, err)
		}
		r.overrides = append(r.overrides, compiledOverride{pattern: g, config: o.Config})
	}
	return r, nil
}

// ConfigFor resolves the config for key; the first matching override wins.
func (r *Registry) ConfigFor(key string) Config {
	for _, o := range r.overrides {
		if o.pattern.Match(key) {
			return merge(r.def, o.config)
		}
	}
	return r.def
}

func merge(base, over Config) Config {
	if over.FailureThreshold > 0 {
		base.FailureThreshold = over.FailureThreshold
	}
	if over.Cooldown > 0 {
		base.Cooldown = over.Cooldown
	}
	if over.FailureRateThreshold > 0 {
		base.FailureRateThreshold = over.FailureRateThreshold
	}
	if over.RateWindowSize > 0 {
		base.RateWindowSize = over.RateWindowSize
	}
	return base
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	return r.breakers.getOrCreate(key, func() *Breaker {
		return NewBreaker(key, r.ConfigFor(key), r.now, r.stateChanged)
	})
}

func (r *Registry) stateChanged(c StateChange) {
	r.logger.Info("circuit state change",
		"breaker_key", c.Key,
		"from", c.From.String(),
		"to", c.To.String(),
		"transition", c.Transition,
	)
	if r.onChange != nil {
		r.onChange(c)
	}
}

func (r *Registry) Allow(key string) (Permit, error) {
	return r.Get(key).Allow()
}

func (r *Registry) Report(p Permit, o Outcome) {
	r.Get(p.Key).Report(p, o)
}

// Reset closes the breaker for key. It reports false if no breaker exists.
func (r *Registry) Reset(key string) bool {
	b, ok := r.breakers.get(key)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

func (r *Registry) ResetAll() {
	r.breakers.each(func(b *Breaker) { b.Reset() })
}

// Stats returns the stats of every breaker sorted by key.
func (r *Registry) Stats() []Stats {
	var out []Stats
	r.breakers.each(func(b *Breaker) { out = append(out, b.Stats()) })
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// OpenCircuits returns the sorted keys of breakers that are not closed.
func (r *Registry) OpenCircuits() []string {
	var open []string
	r.breakers.each(func(b *Breaker) {
		if b.State() != Closed {
			open = append(open, b.Key())
		}
	})
	sort.Strings(open)
	return open
}

func (r *Registry) Len() int {
	return r.breakers.len()
}
