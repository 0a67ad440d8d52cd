// Package plan selects which agents participate in a turn.
package plan

import (
	"github.com/adalundhe/switchyard/core/intent"
	"github.com/adalundhe/switchyard/core/routing"
)

// Pattern names.
const (
	PatternDirect    = "direct"
	PatternClarify   = "clarify"
	PatternCRUDWrite = "crud_write"
	PatternCRUDRead  = "crud_read"
)

// Plan is the chosen orchestration pattern for one turn.
type Plan struct {
	PatternName   string         `json:"pattern"`
	PlannedAgents []string       `json:"planned_agents"`
	EntryPoint    string         `json:"entry_point,omitempty"`
	Reason        string         `json:"reason"`
	Signals       map[string]any `json:"signals,omitempty"`
}

// Includes reports whether agent is part of the plan.
func (p Plan) Includes(agent string) bool {
	for _, a := range p.PlannedAgents {
		if a == agent {
			return true
		}
	}
	return false
}

// Planner maps a classification to a Plan. It holds no state.
type Planner struct{}

func NewPlanner() *Planner {
	return &Planner{}
}

// Plan picks a pattern. A non-empty entryPoint wins over the classification.
func (p *Planner) Plan(res intent.Result, entryPoint string) Plan {
	sig := map[string]any{
		"rule":       res.Rule,
		"keyword":    res.Keyword,
		"priority":   res.Priority,
		"confidence": res.Confidence,
	}

	switch {
	case entryPoint != "":
		agents := []string{entryPoint}
		if entryPoint != string(routing.TokenSynthesis) {
			agents = append(agents, string(routing.TokenSynthesis))
		}
		return Plan{
			PatternName:   PatternDirect,
			PlannedAgents: agents,
			EntryPoint:    entryPoint,
			Reason:        "caller requested entry point " + entryPoint,
			Signals:       sig,
		}

	case !res.Resolved:
		return Plan{
			PatternName:   PatternClarify,
			PlannedAgents: []string{string(routing.TokenUnknown)},
			Reason:        "no rule matched",
			Signals:       sig,
		}

	case res.IsWrite():
		return Plan{
			PatternName: PatternCRUDWrite,
			PlannedAgents: []string{
				string(routing.TokenDataQuery),
				string(routing.TokenCritic),
				string(routing.TokenSynthesis),
			},
			Reason:  res.Action + " on " + res.Intent,
			Signals: sig,
		}

	default:
		return Plan{
			PatternName: PatternCRUDRead,
			PlannedAgents: []string{
				string(routing.TokenDataQuery),
				string(routing.TokenReflect),
				string(routing.TokenHistorian),
				string(routing.TokenCritic),
				string(routing.TokenSynthesis),
			},
			Reason:  "read on " + res.Intent,
			Signals: sig,
		}
	}
}
