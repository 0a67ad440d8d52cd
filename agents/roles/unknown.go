package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
)

// UnknownIntentAgent asks the user to clarify. It never calls a model, so the
// clarify path keeps working when every provider is down.
type UnknownIntentAgent struct {
	topics []string
}

// NewUnknownIntentAgent lists topics (for example the rule intents) in its reply.
func NewUnknownIntentAgent(topics ...string) *UnknownIntentAgent {
	return &UnknownIntentAgent{topics: topics}
}

func (a *UnknownIntentAgent) Name() string { return string(routing.TokenUnknown) }

func (a *UnknownIntentAgent) Run(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.Response{}, err
	}
	msg := "I couldn't tell what you're asking about. Could you rephrase, naming the record or area you mean?"
	if len(a.topics) > 0 {
		msg = fmt.Sprintf("%s I can help with: %s.", msg, strings.Join(a.topics, ", "))
	}
	return orchestrator.Response{Text: msg}, nil
}
