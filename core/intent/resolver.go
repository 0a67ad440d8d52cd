// Package intent resolves rule matches into a single explainable classification.
package intent

import (
	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/rules"
)

// Unresolved is the intent label reported when no rule matched.
const Unresolved = "unresolved"

// Result is the outcome of classifying one input.
type Result struct {
	Resolved          bool    `json:"resolved"`
	Intent            string  `json:"intent"`
	Action            string  `json:"action,omitempty"`
	Urgency           string  `json:"urgency,omitempty"`
	UrgencyConfidence float64 `json:"urgency_confidence,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	Rule              string  `json:"rule,omitempty"`
	Keyword           string  `json:"keyword,omitempty"`
	Priority          int     `json:"priority,omitempty"`
	Source            string  `json:"source,omitempty"`
	Candidates        int     `json:"candidates"`
}

// UnresolvedResult returns the explicit no-match result.
func UnresolvedResult() Result {
	return Result{Intent: Unresolved}
}

// IsWrite reports whether the resolved action mutates data.
func (r Result) IsWrite() bool {
	switch r.Action {
	case "create", "update", "delete":
		return true
	default:
		return false
	}
}

// Resolve picks the single winning match: higher priority, then higher
// confidence, then earlier declaration. The input order does not matter.
// With no candidates it returns the unresolved result and ErrNoRuleMatched.
func Resolve(matches []rules.Match) (Result, error) {
	if len(matches) == 0 {
		return UnresolvedResult(), coreerrors.ErrNoRuleMatched
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if outranks(m, best) {
			best = m
		}
	}

	r := best.Rule
	return Result{
		Resolved:          true,
		Intent:            r.Intent,
		Action:            r.Action,
		Urgency:           r.Urgency,
		UrgencyConfidence: r.UrgencyConfidence,
		Confidence:        r.Confidence,
		Rule:              r.Name,
		Keyword:           best.Keyword,
		Priority:          r.Priority,
		Source:            r.Source(),
		Candidates:        len(matches),
	}, nil
}

// outranks reports whether a strictly precedes b in resolution order.
func outranks(a, b rules.Match) bool {
	if a.Rule.Priority != b.Rule.Priority {
		return a.Rule.Priority > b.Rule.Priority
	}
	if a.Rule.Confidence != b.Rule.Confidence {
		return a.Rule.Confidence > b.Rule.Confidence
	}
	return a.Rule.Order < b.Rule.Order
}
