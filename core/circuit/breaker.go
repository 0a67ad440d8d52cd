// Package circuit implements per-agent circuit breakers with a single-probe
// half-open state.
package circuit

import (
	"sync"
	"sync/atomic"
	"time"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
)

// =============================================================================
// States and outcomes
// =============================================================================
//
// Closed   -> Open      failure threshold or failure rate reached (trip)
// Open     -> HalfOpen  cooldown elapsed on the next Allow (beginProbe)
// HalfOpen -> Closed    probe succeeded
// HalfOpen -> Open      probe failed or timed out
// any      -> Closed    administrative reset
// any      -> Open      forced open

// State is the breaker state.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the result of one permitted call.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Timeout
	// Cancelled calls are not counted against the agent.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (o Outcome) countsAsFailure() bool {
	return o == Failure || o == Timeout
}

type transition int

const (
	trip transition = iota
	beginProbe
	probeSucceeded
	probeFailed
	reset
	forceOpen
)

var transitionNames = [...]string{
	trip:           "trip",
	beginProbe:     "begin_probe",
	probeSucceeded: "probe_succeeded",
	probeFailed:    "probe_failed",
	reset:          "reset",
	forceOpen:      "force_open",
}

func (t transition) String() string { return transitionNames[t] }

// =============================================================================
// Config
// =============================================================================

// Config configures a breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count that trips the breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// Cooldown is how long an open breaker rejects calls before probing.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// FailureRateThreshold trips on the failure rate over the last
	// RateWindowSize outcomes. Zero disables rate tripping.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	RateWindowSize       int     `yaml:"rate_window_size" json:"rate_window_size"`
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		RateWindowSize:   20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.RateWindowSize <= 0 {
		c.RateWindowSize = d.RateWindowSize
	}
	return c
}

// StateChange describes one applied transition.
type StateChange struct {
	Key        string
	From       State
	To         State
	Transition string
	At         time.Time
}

// =============================================================================
// Breaker
// =============================================================================

// Permit is issued by Allow and handed back to Report.
type Permit struct {
	Key        string
	generation uint64
	probe      bool
}

// Probe reports whether the permit is the half-open probe.
func (p Permit) Probe() bool { return p.probe }

// Breaker tracks the health of one breaker key.
type Breaker struct {
	key string
	cfg Config
	now func() time.Time

	// State is mirrored atomically for lock-free reads.
	state atomic.Int32

	mu              sync.Mutex
	generation      uint64
	failures        int
	window          []bool
	windowNext      int
	windowFilled    int
	probeInFlight   bool
	openedAt        time.Time
	lastStateChange time.Time
	lastFailure     time.Time

	onStateChange func(StateChange)
}

// NewBreaker creates a closed breaker. now may be nil.
func NewBreaker(key string, cfg Config, now func() time.Time, onStateChange func(StateChange)) *Breaker {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	return &Breaker{
		key:             key,
		cfg:             cfg,
		now:             now,
		window:          make([]bool, cfg.RateWindowSize),
		lastStateChange: now(),
		onStateChange:   onStateChange,
	}
}

func (b *Breaker) Key() string    { return b.key }
func (b *Breaker) Config() Config { return b.cfg }

// State returns the current state without locking.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Allow asks to call the agent. While open, or while a half-open probe is
// in flight, it returns ErrCircuitOpen. The first caller after cooldown
// receives the only probe permit.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()
	var change *StateChange

	switch b.State() {
	case Closed:
		p := Permit{Key: b.key, generation: b.generation}
		b.mu.Unlock()
		return p, nil

	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return Permit{}, b.denied("cooling down")
		}
		change = b.apply(beginProbe)
		b.probeInFlight = true
		p := Permit{Key: b.key, generation: b.generation, probe: true}
		b.mu.Unlock()
		b.notify(change)
		return p, nil

	case HalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return Permit{}, b.denied("probe in flight")
		}
		b.probeInFlight = true
		p := Permit{Key: b.key, generation: b.generation, probe: true}
		b.mu.Unlock()
		return p, nil
	}

	b.mu.Unlock()
	return Permit{}, b.denied("unknown state")
}

func (b *Breaker) denied(reason string) error {
	return coreerrors.New(coreerrors.KindCircuitOpen, "allow", b.key, reason, nil)
}

// Report records the outcome of a permitted call. Permits issued before the
// latest transition are ignored.
func (b *Breaker) Report(p Permit, o Outcome) {
	b.mu.Lock()
	if p.generation != b.generation {
		b.mu.Unlock()
		return
	}

	var change *StateChange
	switch b.State() {
	case Closed:
		change = b.reportClosed(o)
	case HalfOpen:
		if p.probe && b.probeInFlight {
			change = b.reportProbe(o)
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

func (b *Breaker) reportClosed(o Outcome) *StateChange {
	if o == Cancelled {
		return nil
	}
	b.record(o.countsAsFailure())
	if !o.countsAsFailure() {
		b.failures = 0
		return nil
	}
	b.failures++
	b.lastFailure = b.now()
	if b.shouldTrip() {
		return b.apply(trip)
	}
	return nil
}

func (b *Breaker) reportProbe(o Outcome) *StateChange {
	b.probeInFlight = false
	switch o {
	case Success:
		return b.apply(probeSucceeded)
	case Cancelled:
		// Release the slot; the next probe gets a fresh generation.
		b.generation++
		return nil
	default:
		b.lastFailure = b.now()
		return b.apply(probeFailed)
	}
}

func (b *Breaker) record(failed bool) {
	if len(b.window) == 0 {
		return
	}
	b.window[b.windowNext] = failed
	b.windowNext = (b.windowNext + 1) % len(b.window)
	if b.windowFilled < len(b.window) {
		b.windowFilled++
	}
}

func (b *Breaker) shouldTrip() bool {
	if b.failures >= b.cfg.FailureThreshold {
		return true
	}
	if b.cfg.FailureRateThreshold <= 0 || b.windowFilled < len(b.window) {
		return false
	}
	return b.failureRate() >= b.cfg.FailureRateThreshold
}

func (b *Breaker) failureRate() float64 {
	if b.windowFilled == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < b.windowFilled; i++ {
		if b.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(b.windowFilled)
}

// apply performs t and returns the change to publish once unlocked.
// Must hold mu.
func (b *Breaker) apply(t transition) *StateChange {
	from := b.State()
	var to State

	switch t {
	case trip, probeFailed, forceOpen:
		to = Open
	case beginProbe:
		to = HalfOpen
	case probeSucceeded, reset:
		to = Closed
	}

	now := b.now()
	b.state.Store(int32(to))
	b.generation++
	b.lastStateChange = now
	b.probeInFlight = false

	switch to {
	case Open:
		b.openedAt = now
	case Closed:
		b.failures = 0
		b.clearWindow()
	}

	if from == to && t != reset && t != forceOpen {
		return nil
	}
	return &StateChange{Key: b.key, From: from, To: to, Transition: t.String(), At: now}
}

func (b *Breaker) clearWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowNext = 0
	b.windowFilled = 0
}

func (b *Breaker) notify(change *StateChange) {
	if change != nil && b.onStateChange != nil {
		b.onStateChange(*change)
	}
}

// Reset forces the breaker closed and invalidates outstanding permits.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.apply(reset)
	b.mu.Unlock()
	b.notify(change)
}

// ForceOpen opens the breaker and restarts the cooldown.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	change := b.apply(forceOpen)
	b.mu.Unlock()
	b.notify(change)
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Key             string    `json:"key"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	FailureRate     float64   `json:"failure_rate"`
	ProbeInFlight   bool      `json:"probe_in_flight"`
	Generation      uint64    `json:"generation"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Key:             b.key,
		State:           b.State(),
		Failures:        b.failures,
		FailureRate:     b.failureRate(),
		ProbeInFlight:   b.probeInFlight,
		Generation:      b.generation,
		OpenedAt:        b.openedAt,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}
