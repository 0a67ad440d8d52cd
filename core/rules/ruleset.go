package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
)

// CompiledRule is a Rule with its keywords prepared for matching and its
// position in the authoritative load order.
type CompiledRule struct {
	Rule
	Order int

	keywords []string
}

// Match is one rule satisfied by one input.
type Match struct {
	Rule    *CompiledRule
	Keyword string
}

// RuleSet is an immutable, ordered collection of compiled rules.
// It is safe for concurrent use once built.
type RuleSet struct {
	version     int
	rules       []*CompiledRule
	byName      map[string]*CompiledRule
	fingerprint string
}

// NewRuleSet validates and compiles rules in declaration order.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	return newRuleSet(0, rules)
}

func newRuleSet(version int, rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{
		version: version,
		rules:   make([]*CompiledRule, 0, len(rules)),
		byName:  make(map[string]*CompiledRule, len(rules)),
	}

	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, exists := rs.byName[r.Name]; exists {
			return nil, coreerrors.New(coreerrors.KindDuplicateRule, "load", r.Name, "rule name already declared", nil)
		}
		cr := compileRule(r, i)
		rs.rules = append(rs.rules, cr)
		rs.byName[r.Name] = cr
	}

	rs.fingerprint = fingerprint(version, rules)
	return rs, nil
}

func compileRule(r Rule, order int) *CompiledRule {
	cr := &CompiledRule{
		Rule:     cloneRule(r),
		Order:    order,
		keywords: make([]string, len(r.Keywords)),
	}
	for i, kw := range r.Keywords {
		cr.keywords[i] = normalize(kw)
	}
	return cr
}

func cloneRule(r Rule) Rule {
	out := r
	out.Keywords = append([]string(nil), r.Keywords...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// matchKeyword returns the first keyword satisfied by normalized text.
func (cr *CompiledRule) matchKeyword(text string) (string, bool) {
	for i, kw := range cr.keywords {
		if cr.WordBoundary {
			if containsWord(text, kw) {
				return cr.Keywords[i], true
			}
			continue
		}
		if strings.Contains(text, kw) {
			return cr.Keywords[i], true
		}
	}
	return "", false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// containsWord reports whether kw occurs in text without being glued to a
// neighbouring word rune. A boundary is only required on an edge where kw
// itself starts or ends with a word rune.
func containsWord(text, kw string) bool {
	first, _ := utf8.DecodeRuneInString(kw)
	last, _ := utf8.DecodeLastRuneInString(kw)
	needLeft, needRight := isWordRune(first), isWordRune(last)

	for start := 0; start <= len(text)-len(kw); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)

		leftOK := true
		if needLeft && i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:i])
			leftOK = !isWordRune(prev)
		}
		rightOK := true
		if needRight && end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			rightOK = !isWordRune(next)
		}
		if leftOK && rightOK {
			return true
		}

		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

// Match returns every rule whose keyword condition is satisfied by text,
// in declaration order. Empty input or an empty rule set yields nil.
func (rs *RuleSet) Match(text string) []Match {
	if rs == nil || len(rs.rules) == 0 {
		return nil
	}
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	var matches []Match
	for _, cr := range rs.rules {
		if kw, ok := cr.matchKeyword(normalized); ok {
			matches = append(matches, Match{Rule: cr, Keyword: kw})
		}
	}
	return matches
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns a copy of the rules in declaration order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	for i, cr := range rs.rules {
		out[i] = cloneRule(cr.Rule)
	}
	return out
}

// Lookup returns the compiled rule with the given name.
func (rs *RuleSet) Lookup(name string) (*CompiledRule, bool) {
	if rs == nil {
		return nil, false
	}
	cr, ok := rs.byName[name]
	return cr, ok
}

// Version returns the table version the set was loaded from.
func (rs *RuleSet) Version() int {
	return rs.version
}

// Fingerprint returns a stable content hash of the rule set.
func (rs *RuleSet) Fingerprint() string {
	return rs.fingerprint
}

func fingerprint(version int, rules []Rule) string {
	data, err := json.Marshal(struct {
		Version int    `json:"version"`
		Rules   []Rule `json:"rules"`
	}{version, rules})
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
