package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/adalundhe/switchyard/agents/llm"
	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
	"github.com/adalundhe/switchyard/core/state"
)

const reviseMarker = "REVISE"

// LLMAgent runs one pipeline role against a language model.
// The token budget comes from the provider's configuration.
type LLMAgent struct {
	name     string
	system   string
	provider llm.Provider
}

// NewLLMAgent uses the built-in prompt for name when system is empty.
func NewLLMAgent(name, system string, provider llm.Provider) (*LLMAgent, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm agent %s: provider is required", name)
	}
	if system == "" {
		system = SystemPrompt(name)
	}
	if system == "" {
		return nil, fmt.Errorf("llm agent %s: no system prompt", name)
	}
	return &LLMAgent{name: name, system: system, provider: provider}, nil
}

func (a *LLMAgent) Name() string { return a.name }

func (a *LLMAgent) Run(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	text, err := a.provider.Complete(ctx, llm.Request{
		System: a.system,
		Prompt: buildPrompt(req),
	})
	if err != nil {
		return orchestrator.Response{}, fmt.Errorf("%s: %w", a.name, err)
	}

	resp := orchestrator.Response{Text: strings.TrimSpace(text)}
	if a.name == string(routing.TokenCritic) {
		resp.Metadata = map[string]any{
			routing.MetaRevise: strings.HasPrefix(strings.ToUpper(resp.Text), reviseMarker),
		}
	}
	return resp, nil
}

// buildPrompt lays out the message, the classification and every output
// already produced this turn, in route order.
func buildPrompt(req orchestrator.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User message:\n%s\n", req.Message)

	st := req.State
	if st == nil {
		return sb.String()
	}
	if in, ok := st.ClassificationField("intent").(string); ok && in != "" {
		fmt.Fprintf(&sb, "\nIntent: %s", in)
		if action, ok := st.ClassificationField("action").(string); ok && action != "" {
			fmt.Fprintf(&sb, " (%s)", action)
		}
		sb.WriteString("\n")
	}

	for _, name := range producedInOrder(st) {
		out, _ := st.Output(name)
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", name, out.Text)
	}
	return sb.String()
}

func producedInOrder(st *state.ExecutionState) []string {
	outputs := st.Outputs()
	seen := make(map[string]bool, len(outputs))
	var names []string
	for _, tok := range st.Routes() {
		if _, ok := outputs[tok]; ok && !seen[tok] {
			seen[tok] = true
			names = append(names, tok)
		}
	}
	return names
}
