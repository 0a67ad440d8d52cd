// Package config loads switchyard settings: defaults, then the project file,
// the user file, the project-local file and finally SWITCHYARD_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/switchyard/agents/llm"
	"github.com/adalundhe/switchyard/core/circuit"
	"github.com/adalundhe/switchyard/core/routing"
	"github.com/adalundhe/switchyard/core/storage"
)

const envPrefix = "SWITCHYARD_"

type Manager struct {
	cfg         atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Rules        RulesConfig        `yaml:"rules"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Circuit      CircuitConfig      `yaml:"circuit"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Cache        CacheConfig        `yaml:"cache"`
	LLM          LLMConfig          `yaml:"llm"`
	Data         DataConfig         `yaml:"data"`
	Session      SessionConfig      `yaml:"session"`
	Server       ServerConfig       `yaml:"server"`
}

type RulesConfig struct {
	// Path to a rule table; empty uses the embedded one.
	Path string `yaml:"path"`
}

type ClassifierConfig struct {
	CacheSize int `yaml:"cache_size"`
}

type CircuitConfig struct {
	circuit.Config `yaml:",inline"`
	Overrides      []circuit.Override `yaml:"overrides"`
}

type OrchestratorConfig struct {
	CallTimeout    time.Duration          `yaml:"call_timeout"`
	MaxSteps       int                    `yaml:"max_steps"`
	MaxFallbacks   int                    `yaml:"max_fallbacks"`
	LockConfidence float64                `yaml:"lock_confidence"`
	Fallbacks      []routing.FallbackRule `yaml:"fallbacks"`
}

type CacheConfig struct {
	Backend     string        `yaml:"backend"` // memory | redis
	TTL         time.Duration `yaml:"ttl"`
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	Redis       RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type DataConfig struct {
	Backend string            `yaml:"backend"` // static | http
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Static  map[string]string `yaml:"static"`
}

type SessionConfig struct {
	// Path of the sqlite database; empty resolves under the user data dir.
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Classifier: ClassifierConfig{CacheSize: 4096},
		Circuit:    CircuitConfig{Config: circuit.DefaultConfig()},
		Orchestrator: OrchestratorConfig{
			CallTimeout:    30 * time.Second,
			MaxSteps:       16,
			MaxFallbacks:   2,
			LockConfidence: 0.95,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTL:         10 * time.Minute,
			NumCounters: 1e4,
			MaxCost:     1e3,
			Redis:       RedisConfig{Addr: "localhost:6379", Prefix: "switchyard:graph:"},
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: llm.DefaultMaxTokens,
			Timeout:   llm.DefaultTimeout,
		},
		Data: DataConfig{
			Backend: "static",
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Validate rejects settings the components would refuse later anyway.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Data.Backend {
	case "static":
	case "http":
		if c.Data.BaseURL == "" {
			return fmt.Errorf("data.base_url is required for the http backend")
		}
	default:
		return fmt.Errorf("data.backend must be static or http, got %q", c.Data.Backend)
	}
	if c.Orchestrator.LockConfidence < 0 || c.Orchestrator.LockConfidence > 1 {
		return fmt.Errorf("orchestrator.lock_confidence must be in [0,1]")
	}
	if c.Circuit.FailureRateThreshold < 0 || c.Circuit.FailureRateThreshold > 1 {
		return fmt.Errorf("circuit.failure_rate_threshold must be in [0,1]")
	}
	for _, fb := range c.Orchestrator.Fallbacks {
		if !fb.Route.Valid() {
			return fmt.Errorf("orchestrator.fallbacks: %q is not a route token", fb.Route)
		}
	}
	return nil
}

// LLMProviderConfig resolves the API key for the configured provider:
// SWITCHYARD_LLM_API_KEY first, then the vendor variable.
func (c *Config) LLMProviderConfig() llm.Config {
	key := os.Getenv(envPrefix + "LLM_API_KEY")
	if key == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			key = os.Getenv("OPENAI_API_KEY")
		case "google", "gemini":
			key = os.Getenv("GEMINI_API_KEY")
		default:
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	return llm.Config{
		Provider:  c.LLM.Provider,
		APIKey:    key,
		Model:     c.LLM.Model,
		BaseURL:   c.LLM.BaseURL,
		MaxTokens: c.LLM.MaxTokens,
		Timeout:   c.LLM.Timeout,
	}
}

// NewManager resolves project files relative to projectRoot.
func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	m := &Manager{dirs: dirs, projectRoot: projectRoot}
	m.cfg.Store(DefaultConfig())
	return m
}

func (m *Manager) Get() *Config {
	return m.cfg.Load()
}

// Load walks the search path. A .env in the project root is read first; a
// missing one is not an error.
func (m *Manager) Load() error {
	if err := m.loadDotEnv(); err != nil {
		return err
	}

	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	layers := []struct {
		name string
		path string
	}{
		{"project config", projectDirs.Config},
		{"user config", m.dirs.ConfigDir("config.yaml")},
		{"local config", filepath.Join(projectDirs.Local, "config.yaml")},
	}

	cfg := DefaultConfig()
	for _, layer := range layers {
		if err := overlayFile(cfg, layer.path, false); err != nil {
			return fmt.Errorf("%s: %w", layer.name, err)
		}
	}
	return m.finish(cfg)
}

// LoadFile uses path instead of the search path. The file must exist.
func (m *Manager) LoadFile(path string) error {
	if err := m.loadDotEnv(); err != nil {
		return err
	}
	cfg := DefaultConfig()
	if err := overlayFile(cfg, path, true); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return m.finish(cfg)
}

func (m *Manager) finish(cfg *Config) error {
	if err := applyEnvironment(cfg); err != nil {
		return err
	}
	if cfg.Session.Path == "" && m.dirs != nil {
		cfg.Session.Path = m.dirs.SessionDB()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

func (m *Manager) loadDotEnv() error {
	err := godotenv.Load(filepath.Join(m.projectRoot, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func overlayFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return err
	}

	layer := &Config{}
	if err := yaml.Unmarshal(data, layer); err != nil {
		return err
	}
	DeepMerge(cfg, layer)
	return nil
}

func applyEnvironment(cfg *Config) error {
	strs := map[string]*string{
		"RULES_PATH":     &cfg.Rules.Path,
		"CACHE_BACKEND":  &cfg.Cache.Backend,
		"REDIS_ADDR":     &cfg.Cache.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Cache.Redis.Password,
		"LLM_PROVIDER":   &cfg.LLM.Provider,
		"LLM_MODEL":      &cfg.LLM.Model,
		"LLM_BASE_URL":   &cfg.LLM.BaseURL,
		"DATA_BACKEND":   &cfg.Data.Backend,
		"DATA_BASE_URL":  &cfg.Data.BaseURL,
		"SESSION_PATH":   &cfg.Session.Path,
		"SERVER_ADDR":    &cfg.Server.Addr,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CLASSIFIER_CACHE_SIZE":     &cfg.Classifier.CacheSize,
		"CIRCUIT_FAILURE_THRESHOLD": &cfg.Circuit.FailureThreshold,
		"MAX_STEPS":                 &cfg.Orchestrator.MaxSteps,
		"MAX_FALLBACKS":             &cfg.Orchestrator.MaxFallbacks,
		"REDIS_DB":                  &cfg.Cache.Redis.DB,
		"LLM_MAX_TOKENS":            &cfg.LLM.MaxTokens,
	}
	for name, dst := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CIRCUIT_COOLDOWN": &cfg.Circuit.Cooldown,
		"CALL_TIMEOUT":     &cfg.Orchestrator.CallTimeout,
		"CACHE_TTL":        &cfg.Cache.TTL,
		"LLM_TIMEOUT":      &cfg.LLM.Timeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(envPrefix + "LOCK_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sLOCK_CONFIDENCE: %w", envPrefix, err)
		}
		cfg.Orchestrator.LockConfidence = f
	}
	return nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
