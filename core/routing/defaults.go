package routing

import (
	"github.com/adalundhe/switchyard/core/signals"
	"github.com/adalundhe/switchyard/core/state"
)

// MaxRevisions bounds the critic to reflect loop.
const MaxRevisions = 1

// MetaRevise is the output metadata key a critic sets to request a revision.
const MetaRevise = "revise"

// ShouldRunHistorian is false when any of the suppress_history, wizard_bailed
// or checkpoints_skipped flags is set.
func ShouldRunHistorian(st *state.ExecutionState) bool {
	return !st.Flag(state.FlagSuppressHistory) &&
		!st.Flag(state.FlagWizardBailed) &&
		!st.Flag(state.FlagCheckpointsSkipped)
}

// BuildDefault returns the registry used by the standard pipeline.
func BuildDefault() (*Registry, error) {
	b := NewBuilder()
	defaults := []struct {
		point Point
		fn    RouterFunc
	}{
		{PointEntry, routeEntry},
		{PointAfterDataQuery, routeAfterDataQuery},
		{PointAfterReflect, routeAfterReflect},
		{PointAfterHistorian, routeTo(TokenCritic)},
		{PointAfterCritic, routeAfterCritic},
		{PointAfterSynthesis, routeTo(TokenFinal)},
		{PointAfterUnknown, routeTo(TokenFinal)},
	}
	for _, d := range defaults {
		if err := b.Register(d.point, d.fn); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func routeTo(tok Token) RouterFunc {
	return func(*state.ExecutionState, *signals.Signals) (Token, error) {
		return tok, nil
	}
}

func routeEntry(st *state.ExecutionState, sig *signals.Signals) (Token, error) {
	if st.Flag(state.FlagWizardBailed) {
		return TokenEnd, nil
	}
	if sig != nil && !sig.Locked() && sig.Target() != "" {
		return Token(sig.Target()), nil
	}
	if resolved, _ := st.ClassificationField("resolved").(bool); !resolved {
		return TokenUnknown, nil
	}
	return TokenDataQuery, nil
}

func routeAfterDataQuery(st *state.ExecutionState, _ *signals.Signals) (Token, error) {
	if st.Failed(string(TokenDataQuery)) {
		return TokenSynthesis, nil
	}
	action, _ := st.ClassificationField("action").(string)
	switch action {
	case "create", "update", "delete":
		return TokenCritic, nil
	}
	if urgency, _ := st.ClassificationField("urgency").(string); urgency == "high" {
		return TokenSynthesis, nil
	}
	return TokenReflect, nil
}

func routeAfterReflect(st *state.ExecutionState, _ *signals.Signals) (Token, error) {
	if ShouldRunHistorian(st) {
		return TokenHistorian, nil
	}
	return TokenCritic, nil
}

// routeAfterCritic counts the revision it grants so the loop runs at most
// MaxRevisions times per turn.
func routeAfterCritic(st *state.ExecutionState, _ *signals.Signals) (Token, error) {
	out, ok := st.Output(string(TokenCritic))
	revise, _ := out.Metadata[MetaRevise].(bool)
	if ok && revise && st.Revisions() < MaxRevisions {
		st.IncRevisions()
		return TokenReflect, nil
	}
	return TokenSynthesis, nil
}
