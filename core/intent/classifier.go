package intent

import (
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/rules"
)

const defaultCacheSize = 4096

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// CacheSize bounds the result cache. Zero uses the default; negative disables it.
	CacheSize int

	// Logger is optional, uses slog.Default() if nil.
	Logger *slog.Logger
}

// Classifier maps raw text to a Result using an immutable RuleSet.
// Results are cached by normalized text, which is sound because the rule set
// never changes after construction.
type Classifier struct {
	rules  *rules.RuleSet
	cache  *lru.Cache[string, Result]
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// ClassifierStats reports cache effectiveness.
type ClassifierStats struct {
	Rules  int   `json:"rules"`
	Cached int   `json:"cached"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewClassifier creates a classifier over rs.
func NewClassifier(rs *rules.RuleSet, cfg ClassifierConfig) (*Classifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Classifier{
		rules:  rs,
		logger: logger.With("component", "classifier"),
	}

	size := cfg.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New[string, Result](size)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Classify resolves text against the rule set. When no rule matches it
// returns the unresolved result together with ErrNoRuleMatched.
func (c *Classifier) Classify(text string) (Result, error) {
	key := rules.Normalize(text)

	if res, ok := c.lookup(key); ok {
		return res, resultErr(res)
	}

	res, err := Resolve(c.rules.Match(key))
	c.store(key, res)

	if err != nil {
		c.logger.Debug("no rule matched", "input_len", len(key))
		return res, err
	}
	c.logger.Debug("intent resolved",
		"intent", res.Intent,
		"rule", res.Rule,
		"keyword", res.Keyword,
		"candidates", res.Candidates,
	)
	return res, nil
}

func (c *Classifier) lookup(key string) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	res, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return res, ok
}

func (c *Classifier) store(key string, res Result) {
	if c.cache != nil {
		c.cache.Add(key, res)
	}
}

func resultErr(res Result) error {
	if res.Resolved {
		return nil
	}
	return coreerrors.ErrNoRuleMatched
}

// Rules returns the underlying rule set.
func (c *Classifier) Rules() *rules.RuleSet {
	return c.rules
}

// Purge drops every cached result.
func (c *Classifier) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Stats returns a snapshot of cache statistics.
func (c *Classifier) Stats() ClassifierStats {
	stats := ClassifierStats{
		Rules:  c.rules.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if c.cache != nil {
		stats.Cached = c.cache.Len()
	}
	return stats
}
