// Package state provides the per-session execution state threaded through a
// turn. The underlying value is a plain map so callers can persist it as JSON
// without knowing its layout.
package state

import (
	"encoding/json"
	"fmt"
)

// Flag names read by the routing functions.
const (
	FlagSuppressHistory    = "suppress_history"
	FlagWizardBailed       = "wizard_bailed"
	FlagCheckpointsSkipped = "checkpoints_skipped"
)

const (
	keyFlags     = "flags"
	keyOutputs   = "agent_outputs"
	keyFailures  = "failures"
	keyRoutes    = "routes"
	keyIntent    = "intent"
	keyRevisions = "revisions"
)

// Output is the recorded result of one agent.
type Output struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Failure is the recorded failure of one agent.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecutionState is owned by one turn at a time and is not safe for
// concurrent mutation. Hand agents a Clone.
type ExecutionState struct {
	m map[string]any
}

func New() *ExecutionState {
	return &ExecutionState{m: make(map[string]any)}
}

// FromMap adopts m as the backing map. A nil map starts empty.
func FromMap(m map[string]any) *ExecutionState {
	if m == nil {
		m = make(map[string]any)
	}
	return &ExecutionState{m: m}
}

// Map returns the backing map.
func (s *ExecutionState) Map() map[string]any {
	return s.m
}

// Clone returns a deep copy via a JSON round trip.
func (s *ExecutionState) Clone() *ExecutionState {
	data, err := json.Marshal(s.m)
	if err != nil {
		return FromMap(shallowCopy(s.m))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return FromMap(shallowCopy(s.m))
	}
	return FromMap(m)
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *ExecutionState) sub(key string) map[string]any {
	if v, ok := s.m[key].(map[string]any); ok {
		return v
	}
	v := make(map[string]any)
	s.m[key] = v
	return v
}

func (s *ExecutionState) peek(key string) map[string]any {
	v, _ := s.m[key].(map[string]any)
	return v
}

// Flag reports whether a flag is set to true.
func (s *ExecutionState) Flag(name string) bool {
	b, _ := s.peek(keyFlags)[name].(bool)
	return b
}

func (s *ExecutionState) SetFlag(name string, value bool) {
	s.sub(keyFlags)[name] = value
}

// RecordOutput stores an agent's output and clears any earlier failure.
func (s *ExecutionState) RecordOutput(agent string, out Output) {
	entry := map[string]any{"text": out.Text}
	if len(out.Metadata) > 0 {
		entry["metadata"] = out.Metadata
	}
	s.sub(keyOutputs)[agent] = entry
	delete(s.sub(keyFailures), agent)
}

func (s *ExecutionState) Output(agent string) (Output, bool) {
	entry, ok := s.peek(keyOutputs)[agent].(map[string]any)
	if !ok {
		return Output{}, false
	}
	out := Output{}
	out.Text, _ = entry["text"].(string)
	out.Metadata, _ = entry["metadata"].(map[string]any)
	return out, true
}

// Outputs returns all recorded agent outputs.
func (s *ExecutionState) Outputs() map[string]Output {
	raw := s.peek(keyOutputs)
	out := make(map[string]Output, len(raw))
	for name := range raw {
		if o, ok := s.Output(name); ok {
			out[name] = o
		}
	}
	return out
}

func (s *ExecutionState) RecordFailure(agent string, f Failure) {
	s.sub(keyFailures)[agent] = map[string]any{"kind": f.Kind, "message": f.Message}
}

// Failed reports whether the agent's most recent call failed.
func (s *ExecutionState) Failed(agent string) bool {
	_, ok := s.peek(keyFailures)[agent]
	return ok
}

func (s *ExecutionState) Failure(agent string) (Failure, bool) {
	entry, ok := s.peek(keyFailures)[agent].(map[string]any)
	if !ok {
		return Failure{}, false
	}
	f := Failure{}
	f.Kind, _ = entry["kind"].(string)
	f.Message, _ = entry["message"].(string)
	return f, true
}

func (s *ExecutionState) AppendRoute(token string) {
	routes, _ := s.m[keyRoutes].([]any)
	s.m[keyRoutes] = append(routes, token)
}

// Routes returns the route tokens taken so far in the current turn.
func (s *ExecutionState) Routes() []string {
	routes, _ := s.m[keyRoutes].([]any)
	out := make([]string, 0, len(routes))
	for _, r := range routes {
		if str, ok := r.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// SetClassification stores a classification snapshot. v must be JSON encodable.
func (s *ExecutionState) SetClassification(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode classification: %w", err)
	}
	s.m[keyIntent] = m
	return nil
}

// Classification decodes the stored snapshot into v.
func (s *ExecutionState) Classification(v any) (bool, error) {
	m := s.peek(keyIntent)
	if m == nil {
		return false, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// ClassificationField returns one field of the stored snapshot.
func (s *ExecutionState) ClassificationField(name string) any {
	return s.peek(keyIntent)[name]
}

func (s *ExecutionState) IncRevisions() int {
	n := s.Revisions() + 1
	s.m[keyRevisions] = n
	return n
}

// Revisions handles both int and the float64 produced by JSON decoding.
func (s *ExecutionState) Revisions() int {
	switch v := s.m[keyRevisions].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// ResetTurn clears the per-turn sub-maps and the route trail. Flags carry over.
func (s *ExecutionState) ResetTurn() {
	delete(s.m, keyRoutes)
	delete(s.m, keyOutputs)
	delete(s.m, keyFailures)
	delete(s.m, keyRevisions)
}
