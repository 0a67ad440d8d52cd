// Package errors implements the routing error taxonomy with recovery classification.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a routing failure.
// Each kind has defined recovery behavior for the orchestration controller.
type Kind int

const (
	// KindNoRuleMatched indicates classification produced no winner.
	// Not fatal: the turn routes to the unknown-intent handler.
	KindNoRuleMatched Kind = iota

	// KindRouterNotFound indicates a route point with no registered routing function.
	KindRouterNotFound

	// KindDuplicateRouter indicates two routing functions registered under one route point.
	KindDuplicateRouter

	// KindDuplicateRule indicates two rules sharing a name in one rule set.
	KindDuplicateRule

	// KindInvalidRule indicates a rule that violates the rule invariants.
	KindInvalidRule

	// KindCircuitOpen indicates an agent call denied by its circuit breaker.
	KindCircuitOpen

	// KindAgentCallFailed indicates an agent call that was allowed through and failed.
	KindAgentCallFailed

	// KindAgentCallTimeout indicates an agent call that exceeded its per-call timeout.
	KindAgentCallTimeout

	// KindAgentCallCancelled indicates an agent call abandoned because the turn was cancelled.
	KindAgentCallCancelled

	// KindSignalConflict indicates an attempt to override a locked routing signal.
	KindSignalConflict

	// KindFallbackExhausted indicates no usable fallback route remained.
	KindFallbackExhausted

	// KindInvalidRoute indicates a route token outside the fixed vocabulary.
	KindInvalidRoute

	// KindCacheBackend indicates a failure in the compiled graph cache backend.
	KindCacheBackend

	// KindStepLimit indicates a turn that did not reach a terminal route in time.
	KindStepLimit
)

var kindNames = map[Kind]string{
	KindNoRuleMatched:      "no_rule_matched",
	KindRouterNotFound:     "router_not_found",
	KindDuplicateRouter:    "duplicate_router",
	KindDuplicateRule:      "duplicate_rule",
	KindInvalidRule:        "invalid_rule",
	KindCircuitOpen:        "circuit_open",
	KindAgentCallFailed:    "agent_call_failed",
	KindAgentCallTimeout:   "agent_call_timeout",
	KindAgentCallCancelled: "agent_call_cancelled",
	KindSignalConflict:     "signal_conflict",
	KindFallbackExhausted:  "fallback_exhausted",
	KindInvalidRoute:       "invalid_route",
	KindCacheBackend:       "cache_backend",
	KindStepLimit:          "step_limit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Behavior defines how the controller treats a kind.
type Behavior struct {
	// Recoverable indicates the pipeline can continue on a fallback route.
	Recoverable bool

	// SetupFailure indicates a configuration error that must surface immediately.
	SetupFailure bool

	// CountsAsFailure indicates the outcome is charged to the circuit breaker.
	CountsAsFailure bool
}

// DefaultBehaviors returns the behavior for each kind.
func DefaultBehaviors() map[Kind]Behavior {
	return map[Kind]Behavior{
		KindNoRuleMatched:      {Recoverable: true},
		KindRouterNotFound:     {SetupFailure: true},
		KindDuplicateRouter:    {SetupFailure: true},
		KindDuplicateRule:      {SetupFailure: true},
		KindInvalidRule:        {SetupFailure: true},
		KindCircuitOpen:        {Recoverable: true},
		KindAgentCallFailed:    {Recoverable: true, CountsAsFailure: true},
		KindAgentCallTimeout:   {Recoverable: true, CountsAsFailure: true},
		KindAgentCallCancelled: {Recoverable: true},
		KindSignalConflict:     {Recoverable: true},
		KindFallbackExhausted:  {},
		KindInvalidRoute:       {SetupFailure: true},
		KindCacheBackend:       {Recoverable: true},
		KindStepLimit:          {},
	}
}

// RoutingError wraps an error with its kind.
type RoutingError struct {
	Kind    Kind
	Op      string
	Key     string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Key)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// Is matches any RoutingError of the same kind.
func (e *RoutingError) Is(target error) bool {
	var re *RoutingError
	if errors.As(target, &re) {
		return e.Kind == re.Kind
	}
	return false
}

// New creates a RoutingError of the given kind.
func New(kind Kind, op, key, message string, err error) *RoutingError {
	return &RoutingError{
		Kind:    kind,
		Op:      op,
		Key:     key,
		Message: message,
		Err:     err,
	}
}

// Sentinel errors, one per kind. Compare with errors.Is.
var (
	ErrNoRuleMatched      = New(KindNoRuleMatched, "", "", "no rule matched", nil)
	ErrRouterNotFound     = New(KindRouterNotFound, "", "", "router not found", nil)
	ErrDuplicateRouter    = New(KindDuplicateRouter, "", "", "duplicate router", nil)
	ErrDuplicateRule      = New(KindDuplicateRule, "", "", "duplicate rule", nil)
	ErrInvalidRule        = New(KindInvalidRule, "", "", "invalid rule", nil)
	ErrCircuitOpen        = New(KindCircuitOpen, "", "", "circuit open", nil)
	ErrAgentCallFailed    = New(KindAgentCallFailed, "", "", "agent call failed", nil)
	ErrAgentCallTimeout   = New(KindAgentCallTimeout, "", "", "agent call timed out", nil)
	ErrAgentCallCancelled = New(KindAgentCallCancelled, "", "", "agent call cancelled", nil)
	ErrSignalConflict     = New(KindSignalConflict, "", "", "routing signal locked", nil)
	ErrFallbackExhausted  = New(KindFallbackExhausted, "", "", "fallback exhausted", nil)
	ErrInvalidRoute       = New(KindInvalidRoute, "", "", "invalid route token", nil)
	ErrCacheBackend       = New(KindCacheBackend, "", "", "cache backend error", nil)
	ErrStepLimit          = New(KindStepLimit, "", "", "step limit exceeded", nil)
)

// KindOf extracts the Kind from an error. ok is false for errors outside the taxonomy.
func KindOf(err error) (Kind, bool) {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// BehaviorOf returns the behavior for an error's kind.
func BehaviorOf(err error) Behavior {
	kind, ok := KindOf(err)
	if !ok {
		return Behavior{}
	}
	return DefaultBehaviors()[kind]
}

// Recoverable reports whether the pipeline can continue after err.
func Recoverable(err error) bool {
	return BehaviorOf(err).Recoverable
}

// IsSetupFailure reports whether err is a configuration error.
func IsSetupFailure(err error) bool {
	return BehaviorOf(err).SetupFailure
}

var kindStatusCodes = map[Kind]int{
	KindNoRuleMatched:     http.StatusUnprocessableEntity,
	KindRouterNotFound:    http.StatusInternalServerError,
	KindCircuitOpen:       http.StatusServiceUnavailable,
	KindAgentCallTimeout:  http.StatusGatewayTimeout,
	KindAgentCallFailed:   http.StatusBadGateway,
	KindFallbackExhausted: http.StatusServiceUnavailable,
	KindCacheBackend:      http.StatusBadGateway,
	KindStepLimit:         http.StatusInternalServerError,
}

// StatusCode maps an error to an HTTP status for the API boundary.
func StatusCode(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if code, ok := kindStatusCodes[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}
