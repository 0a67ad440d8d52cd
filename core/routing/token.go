// Package routing holds the route vocabulary, the router registry and the
// default routing functions of the orchestration graph.
package routing

// Token names the next node of the graph.
type Token string

const (
	TokenDataQuery Token = "data_query"
	TokenReflect   Token = "reflect"
	TokenHistorian Token = "historian"
	TokenCritic    Token = "critic"
	TokenSynthesis Token = "synthesis"
	TokenUnknown   Token = "unknown"
	TokenFinal     Token = "final"
	TokenEnd       Token = "END"
)

var vocabulary = map[Token]struct{}{
	TokenDataQuery: {},
	TokenReflect:   {},
	TokenHistorian: {},
	TokenCritic:    {},
	TokenSynthesis: {},
	TokenUnknown:   {},
	TokenFinal:     {},
	TokenEnd:       {},
}

// Valid reports whether t is in the fixed vocabulary.
func (t Token) Valid() bool {
	_, ok := vocabulary[t]
	return ok
}

// Terminal reports whether t ends the turn.
func (t Token) Terminal() bool {
	return t == TokenFinal || t == TokenEnd
}

// Agent reports whether t names an agent node.
func (t Token) Agent() bool {
	return t.Valid() && !t.Terminal()
}

// AgentTokens returns the non-terminal tokens in pipeline order.
func AgentTokens() []Token {
	return []Token{TokenDataQuery, TokenReflect, TokenHistorian, TokenCritic, TokenSynthesis, TokenUnknown}
}

// Point names a decision site in the graph.
type Point string

const (
	PointEntry          Point = "entry"
	PointAfterDataQuery Point = "after_data_query"
	PointAfterReflect   Point = "after_reflect"
	PointAfterHistorian Point = "after_historian"
	PointAfterCritic    Point = "after_critic"
	PointAfterSynthesis Point = "after_synthesis"
	PointAfterUnknown   Point = "after_unknown"
)

// After returns the route point evaluated once the agent behind t finishes.
func After(t Token) Point {
	return Point("after_" + string(t))
}
