// Package signals holds the turn-scoped routing directives proposed by
// policies before and during graph execution.
package signals

import (
	coreerrors "github.com/adalundhe/switchyard/core/errors"
)

// Transition is the outcome of a proposal.
type Transition int

const (
	// TransitionAccepted means the proposal replaced the current target.
	TransitionAccepted Transition = iota

	// TransitionLocked means the proposal set the target and locked it.
	TransitionLocked

	// TransitionRejected means a locked target was left untouched.
	TransitionRejected
)

var transitionNames = map[Transition]string{
	TransitionAccepted: "accepted",
	TransitionLocked:   "locked",
	TransitionRejected: "rejected",
}

func (t Transition) String() string {
	if name, ok := transitionNames[t]; ok {
		return name
	}
	return "unknown"
}

// Proposal is a request from a policy to direct the next routing step.
type Proposal struct {
	Target string
	Reason string
	Key    string
	Lock   bool
}

// Conflict records a proposal that arrived after the signals were locked.
type Conflict struct {
	Locked   string `json:"locked"`
	Proposed string `json:"proposed"`
	Key      string `json:"key"`
	Reason   string `json:"reason"`
}

// Observer is notified about rejected proposals.
type Observer interface {
	SignalConflict(c Conflict)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c Conflict)

func (f ObserverFunc) SignalConflict(c Conflict) { f(c) }

// Signals is owned by a single turn and needs no locking.
// Once locked it never unlocks, and later proposals cannot move the target.
type Signals struct {
	target    string
	locked    bool
	reason    string
	key       string
	consumed  bool
	conflicts []Conflict
	observer  Observer
}

// New creates empty signals. observer may be nil.
func New(observer Observer) *Signals {
	return &Signals{observer: observer}
}

// Propose applies p unless the signals are already locked.
func (s *Signals) Propose(p Proposal) (Transition, error) {
	if s.locked {
		c := Conflict{
			Locked:   s.target,
			Proposed: p.Target,
			Key:      p.Key,
			Reason:   p.Reason,
		}
		s.conflicts = append(s.conflicts, c)
		if s.observer != nil {
			s.observer.SignalConflict(c)
		}
		return TransitionRejected, coreerrors.New(coreerrors.KindSignalConflict, "propose", p.Key,
			"signals locked on "+s.target+", ignoring "+p.Target, nil)
	}

	s.target = p.Target
	s.reason = p.Reason
	s.key = p.Key
	if p.Lock {
		s.locked = true
		return TransitionLocked, nil
	}
	return TransitionAccepted, nil
}

// Lock locks the current target in place.
func (s *Signals) Lock(reason, key string) error {
	if s.target == "" {
		return coreerrors.New(coreerrors.KindInvalidRoute, "lock", key, "no target to lock", nil)
	}
	if s.locked {
		return nil
	}
	s.locked = true
	if reason != "" {
		s.reason = reason
	}
	if key != "" {
		s.key = key
	}
	return nil
}

// Authoritative returns the locked target while it has not yet directed a step.
func (s *Signals) Authoritative() (string, bool) {
	if !s.locked || s.consumed || s.target == "" {
		return "", false
	}
	return s.target, true
}

// Consume marks the locked target as honored.
func (s *Signals) Consume() {
	if s.locked {
		s.consumed = true
	}
}

func (s *Signals) Target() string { return s.target }
func (s *Signals) Locked() bool   { return s.locked }
func (s *Signals) Reason() string { return s.reason }
func (s *Signals) Key() string    { return s.key }

// Conflicts returns the rejected proposals in arrival order.
func (s *Signals) Conflicts() []Conflict {
	return append([]Conflict(nil), s.conflicts...)
}

// Snapshot is the serializable view of Signals.
type Snapshot struct {
	Target    string     `json:"target,omitempty"`
	Locked    bool       `json:"locked"`
	Reason    string     `json:"reason,omitempty"`
	Key       string     `json:"key,omitempty"`
	Consumed  bool       `json:"consumed,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

func (s *Signals) Snapshot() Snapshot {
	return Snapshot{
		Target:    s.target,
		Locked:    s.locked,
		Reason:    s.reason,
		Key:       s.key,
		Consumed:  s.consumed,
		Conflicts: s.Conflicts(),
	}
}
