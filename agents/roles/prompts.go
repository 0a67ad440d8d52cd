package roles

// System prompts per pipeline role. Prior agent outputs and the user message
// are appended to the user prompt, never to these.
var systemPrompts = map[string]string{
	"reflect": `You review data fetched for a user's request before it is answered.
State what the data shows, what is missing, and any inconsistency. Do not
answer the user directly.`,

	"historian": `You keep the running history of a support conversation. Summarise
what this turn adds to the record in two or three sentences.`,

	"critic": `You check a draft analysis for errors. If it must be redone, begin
your answer with the single word REVISE followed by the reason. Otherwise
begin with OK and give one sentence of feedback.`,

	"synthesis": `You write the final reply to the user. Use the data and notes
provided, be concise, and never invent records that are not in the data.`,
}

// SystemPrompt returns the built-in prompt for role, or "" for unknown roles.
func SystemPrompt(role string) string {
	return systemPrompts[role]
}
