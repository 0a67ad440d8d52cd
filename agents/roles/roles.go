// Package roles holds the concrete agents of the default pipeline.
package roles

import (
	"github.com/adalundhe/switchyard/agents/llm"
	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
)

var llmRoles = []routing.Token{
	routing.TokenReflect,
	routing.TokenHistorian,
	routing.TokenCritic,
	routing.TokenSynthesis,
}

// Defaults builds one agent per pipeline token. topics feed the clarification
// reply and may be empty.
func Defaults(provider llm.Provider, source DataSource, topics ...string) ([]orchestrator.Agent, error) {
	agents := []orchestrator.Agent{
		NewDataQueryAgent(source),
		NewUnknownIntentAgent(topics...),
	}
	for _, tok := range llmRoles {
		a, err := NewLLMAgent(string(tok), "", provider)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}
