// Package rules holds the declarative intent rules and the keyword matcher
// that evaluates them against raw request text.
package rules

import (
	"fmt"
	"math"
	"strings"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
)

// Urgency levels used by the rule table.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Rule is one declarative match condition and the classification it yields.
// Rules are immutable once a RuleSet has been built from them.
type Rule struct {
	Name              string            `yaml:"name" json:"name"`
	Intent            string            `yaml:"intent" json:"intent"`
	Priority          int               `yaml:"priority" json:"priority"`
	Keywords          []string          `yaml:"keywords" json:"keywords"`
	WordBoundary      bool              `yaml:"word_boundary" json:"word_boundary"`
	Action            string            `yaml:"action" json:"action"`
	Urgency           string            `yaml:"urgency" json:"urgency"`
	UrgencyConfidence float64           `yaml:"urgency_confidence" json:"urgency_confidence"`
	Confidence        float64           `yaml:"confidence" json:"confidence"`
	Metadata          map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Source returns the provenance recorded in metadata.source, if any.
func (r Rule) Source() string {
	return r.Metadata["source"]
}

// Validate checks the per-rule invariants. Name uniqueness is checked by NewRuleSet.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalid(r.Name, "name is required")
	}
	if strings.TrimSpace(r.Intent) == "" {
		return invalid(r.Name, "intent is required")
	}
	if r.Priority < 0 {
		return invalid(r.Name, "priority must be non-negative")
	}
	if err := validateUnit(r.Name, "confidence", r.Confidence); err != nil {
		return err
	}
	if err := validateUnit(r.Name, "urgency_confidence", r.UrgencyConfidence); err != nil {
		return err
	}
	return validateKeywords(r)
}

func validateUnit(name, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return invalid(name, fmt.Sprintf("%s must be within [0,1], got %v", field, v))
	}
	return nil
}

func validateKeywords(r Rule) error {
	if len(r.Keywords) == 0 {
		return invalid(r.Name, "at least one keyword is required")
	}
	for i, kw := range r.Keywords {
		if normalize(kw) == "" {
			return invalid(r.Name, fmt.Sprintf("keyword %d is blank", i))
		}
	}
	return nil
}

func invalid(name, message string) error {
	return coreerrors.New(coreerrors.KindInvalidRule, "validate", name, message, nil)
}

// normalize lowercases and collapses whitespace so keywords and input
// compare on the same footing.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Normalize exposes the matcher's text normalization for cache keys.
func Normalize(s string) string {
	return normalize(s)
}
