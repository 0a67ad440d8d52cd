package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adalundhe/switchyard/core/circuit"
	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/graph"
	"github.com/adalundhe/switchyard/core/intent"
	"github.com/adalundhe/switchyard/core/metrics"
	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
	"github.com/adalundhe/switchyard/core/rules"
	"github.com/adalundhe/switchyard/core/signals"
	"github.com/adalundhe/switchyard/core/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder tracks agent invocations across goroutines.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

type harness struct {
	rec      *recorder
	ctrl     *orchestrator.Controller
	breakers *circuit.Registry
	metrics  *metrics.Metrics
}

type options struct {
	overrides   map[string]func(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
	callTimeout time.Duration
	routers     *routing.Registry
	maxSteps    int
	breakerCfg  circuit.Config
	fallbacks   *routing.FallbackPolicy
}

func testRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.NewRuleSet([]rules.Rule{
		{
			Name: "roles", Intent: "roles", Priority: 55, Keywords: []string{"roles"},
			Action: "read", Urgency: rules.UrgencyLow, UrgencyConfidence: 0.9, Confidence: 0.98,
			Metadata: map[string]string{"source": "test"},
		},
		{
			Name: "roles_delete", Intent: "roles_delete", Priority: 62, Keywords: []string{"delete role"},
			Action: "delete", Urgency: rules.UrgencyMedium, UrgencyConfidence: 0.8, Confidence: 0.96,
			Metadata: map[string]string{"source": "test"},
		},
		{
			Name: "outage", Intent: "incident_report", Priority: 70, Keywords: []string{"outage"},
			Action: "read", Urgency: rules.UrgencyHigh, UrgencyConfidence: 0.9, Confidence: 0.8,
			Metadata: map[string]string{"source": "test"},
		},
	})
	require.NoError(t, err)
	return rs
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	rec := &recorder{}
	m := metrics.New()

	var agents []orchestrator.Agent
	for _, tok := range routing.AgentTokens() {
		name := string(tok)
		fn := func(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
			return orchestrator.Response{Text: name + " done"}, nil
		}
		if o, ok := opts.overrides[name]; ok {
			fn = o
		}
		wrapped := fn
		agents = append(agents, orchestrator.AgentFunc(name, func(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
			rec.add(name)
			return wrapped(ctx, req)
		}))
	}
	set, err := orchestrator.NewAgentSet(agents...)
	require.NoError(t, err)

	cl, err := intent.NewClassifier(testRules(t), intent.ClassifierConfig{})
	require.NoError(t, err)

	bcfg := opts.breakerCfg
	if bcfg.FailureThreshold == 0 {
		bcfg = circuit.Config{FailureThreshold: 3, Cooldown: time.Hour}
	}
	breakers, err := circuit.NewRegistry(circuit.RegistryConfig{
		Default: bcfg,
		OnStateChange: func(sc circuit.StateChange) {
			m.BreakerTransition(sc.Key, sc.From.String(), sc.To.String())
		},
	})
	require.NoError(t, err)

	ctrl, err := orchestrator.New(orchestrator.Config{
		Classifier:  cl,
		Agents:      set,
		Breakers:    breakers,
		Routers:     opts.routers,
		CallTimeout: opts.callTimeout,
		MaxSteps:    opts.maxSteps,
		Fallbacks:   opts.fallbacks,
		Metrics:     m,
	})
	require.NoError(t, err)

	return &harness{rec: rec, ctrl: ctrl, breakers: breakers, metrics: m}
}

func tokens(ts ...string) []routing.Token {
	out := make([]routing.Token, len(ts))
	for i, s := range ts {
		out[i] = routing.Token(s)
	}
	return out
}

func TestNew_RequiresClassifierAndAgents(t *testing.T) {
	_, err := orchestrator.New(orchestrator.Config{})
	assert.Error(t, err)
}

func TestAgentSet(t *testing.T) {
	noop := func(context.Context, orchestrator.Request) (orchestrator.Response, error) {
		return orchestrator.Response{}, nil
	}
	_, err := orchestrator.NewAgentSet(orchestrator.AgentFunc("a", noop), orchestrator.AgentFunc("a", noop))
	assert.Error(t, err)
	_, err = orchestrator.NewAgentSet(orchestrator.AgentFunc("", noop))
	assert.Error(t, err)

	set, err := orchestrator.NewAgentSet(orchestrator.AgentFunc("b", noop), orchestrator.AgentFunc("a", noop))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, set.Names())
	_, ok := set.Get("c")
	assert.False(t, ok)
}

func TestRunTurn_ReadPipeline(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "show all roles", SessionID: "s1"})
	require.NoError(t, err)

	assert.True(t, res.Resolved)
	assert.Equal(t, "roles", res.Intent)
	assert.Equal(t, "read", res.Action)
	assert.Equal(t, "crud_read", res.Pattern)
	assert.Equal(t, tokens("data_query", "reflect", "historian", "critic", "synthesis", "final"), res.Routes)
	assert.Equal(t, "synthesis done", res.Reply)
	assert.NotEmpty(t, res.TurnID)

	// confidence 0.98 locks the crud route; it directs exactly one step.
	assert.True(t, res.Signals.Locked)
	assert.True(t, res.Signals.Consumed)
	assert.Equal(t, orchestrator.PolicyCRUD, res.Signals.Key)

	st := state.FromMap(res.State)
	assert.Equal(t, "roles", st.ClassificationField("intent"))
	assert.Len(t, st.Outputs(), 5)
}

func TestRunTurn_WritePipeline(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "please delete role auditor"})
	require.NoError(t, err)
	assert.Equal(t, "crud_write", res.Pattern)
	assert.Equal(t, tokens("data_query", "critic", "synthesis", "final"), res.Routes)
}

func TestRunTurn_HighUrgencySkipsToSynthesis(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "power outage in gym"})
	require.NoError(t, err)
	// confidence 0.8 is below the lock threshold, so the action signal stays unlocked.
	assert.False(t, res.Signals.Locked)
	assert.Equal(t, tokens("data_query", "synthesis", "final"), res.Routes)
}

func TestRunTurn_Unresolved(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "what's the weather"})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, intent.Unresolved, res.Intent)
	assert.Equal(t, "clarify", res.Pattern)
	assert.Equal(t, tokens("unknown", "final"), res.Routes)
	assert.Equal(t, "unknown done", res.Reply)
	assert.Equal(t, []string{"unknown"}, h.rec.Calls())
}

func TestRunTurn_WizardBailedEnds(t *testing.T) {
	h := newHarness(t, options{})
	st := state.New()
	st.SetFlag(state.FlagWizardBailed, true)

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{
		Message: "what's the weather",
		State:   st.Map(),
	})
	require.NoError(t, err)
	assert.Equal(t, tokens("END"), res.Routes)
	assert.Empty(t, h.rec.Calls())
}

func TestRunTurn_SuppressHistorySkipsHistorian(t *testing.T) {
	h := newHarness(t, options{})
	st := state.New()
	st.SetFlag(state.FlagSuppressHistory, true)

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles", State: st.Map()})
	require.NoError(t, err)
	assert.NotContains(t, res.Routes, routing.TokenHistorian)
	assert.Equal(t, 0, h.rec.count("historian"))
}

func TestRunTurn_CallerStateNotMutated(t *testing.T) {
	h := newHarness(t, options{})
	in := map[string]any{"flags": map[string]any{"checkpoints_skipped": true}}

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles", State: in})
	require.NoError(t, err)
	_, touched := in["routes"]
	assert.False(t, touched)
	assert.NotEmpty(t, state.FromMap(res.State).Routes())
}

func TestRunTurn_SessionStateStaysBounded(t *testing.T) {
	h := newHarness(t, options{})

	var carried map[string]any
	var first int
	for i := 0; i < 50; i++ {
		res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles", State: carried})
		require.NoError(t, err)
		if i == 0 {
			first = len(res.Routes)
			require.Positive(t, first)
		}
		carried = res.State
		assert.Len(t, state.FromMap(carried).Routes(), len(res.Routes))
	}
	assert.Len(t, state.FromMap(carried).Routes(), first)
}

func TestRunTurn_OverrideLocksAndRecordsConflicts(t *testing.T) {
	h := newHarness(t, options{})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles", AgentName: "historian"})
	require.NoError(t, err)
	assert.Equal(t, "direct", res.Pattern)
	assert.Equal(t, tokens("historian", "critic", "synthesis", "final"), res.Routes[:4])
	assert.Equal(t, orchestrator.PolicyOverride, res.Signals.Key)
	require.NotEmpty(t, res.Signals.Conflicts)
	assert.Equal(t, "historian", res.Signals.Conflicts[0].Locked)
}

// Scenario: an open breaker means the agent is never called, the fallback
// route is taken, and the breaker records no extra failure.
func TestRunTurn_OpenBreakerTakesFallback(t *testing.T) {
	h := newHarness(t, options{})
	h.breakers.Get("data_query").ForceOpen()
	before := h.breakers.Get("data_query").Stats()

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "show roles"})
	require.NoError(t, err)

	assert.Equal(t, 0, h.rec.count("data_query"))
	assert.Equal(t, tokens("data_query", "synthesis", "final"), res.Routes)
	assert.Equal(t, "synthesis done", res.Reply)

	after := h.breakers.Get("data_query").Stats()
	assert.Equal(t, circuit.Open, after.State)
	assert.Equal(t, before.Failures, after.Failures)
	assert.Equal(t, before.Generation, after.Generation)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1], "circuit open")
}

func TestRunTurn_FailureRecordedAndRoutingContinues(t *testing.T) {
	h := newHarness(t, options{overrides: map[string]func(context.Context, orchestrator.Request) (orchestrator.Response, error){
		"data_query": func(context.Context, orchestrator.Request) (orchestrator.Response, error) {
			return orchestrator.Response{}, errors.New("upstream 500")
		},
	}})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)
	assert.Equal(t, tokens("data_query", "synthesis", "final"), res.Routes)

	f, ok := state.FromMap(res.State).Failure("data_query")
	require.True(t, ok)
	assert.Equal(t, coreerrors.KindAgentCallFailed.String(), f.Kind)
	assert.Equal(t, 1, h.breakers.Get("data_query").Stats().Failures)
}

func TestRunTurn_RepeatedFailuresTripBreaker(t *testing.T) {
	h := newHarness(t, options{overrides: map[string]func(context.Context, orchestrator.Request) (orchestrator.Response, error){
		"data_query": func(context.Context, orchestrator.Request) (orchestrator.Response, error) {
			return orchestrator.Response{}, errors.New("down")
		},
	}})

	for i := 0; i < 5; i++ {
		_, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.rec.count("data_query"))
	assert.Equal(t, []string{"data_query"}, h.breakers.OpenCircuits())
}

func TestRunTurn_Timeout(t *testing.T) {
	h := newHarness(t, options{
		callTimeout: 20 * time.Millisecond,
		overrides: map[string]func(context.Context, orchestrator.Request) (orchestrator.Response, error){
			"reflect": func(ctx context.Context, _ orchestrator.Request) (orchestrator.Response, error) {
				<-ctx.Done()
				return orchestrator.Response{}, ctx.Err()
			},
		},
	})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)

	f, ok := state.FromMap(res.State).Failure("reflect")
	require.True(t, ok)
	assert.Equal(t, coreerrors.KindAgentCallTimeout.String(), f.Kind)
	assert.Equal(t, 1, h.breakers.Get("reflect").Stats().Failures)
	assert.Equal(t, routing.TokenFinal, res.Routes[len(res.Routes)-1])
}

func TestRunTurn_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	h := newHarness(t, options{overrides: map[string]func(context.Context, orchestrator.Request) (orchestrator.Response, error){
		"data_query": func(callCtx context.Context, _ orchestrator.Request) (orchestrator.Response, error) {
			close(started)
			<-callCtx.Done()
			return orchestrator.Response{}, callCtx.Err()
		},
	}})

	go func() {
		<-started
		cancel()
	}()

	_, err := h.ctrl.RunTurn(ctx, orchestrator.TurnRequest{Message: "roles"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrAgentCallCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, h.breakers.Get("data_query").Stats().Failures)
}

func TestRunTurn_CriticRevisionLoop(t *testing.T) {
	h := newHarness(t, options{overrides: map[string]func(context.Context, orchestrator.Request) (orchestrator.Response, error){
		"critic": func(context.Context, orchestrator.Request) (orchestrator.Response, error) {
			return orchestrator.Response{Text: "REVISE: add totals", Metadata: map[string]any{routing.MetaRevise: true}}, nil
		},
	}})

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)
	assert.Equal(t, tokens(
		"data_query", "reflect", "historian", "critic",
		"reflect", "historian", "critic", "synthesis", "final",
	), res.Routes)
	assert.Equal(t, 1, state.FromMap(res.State).Revisions())
}

func TestRunTurn_RouterNotFoundAborts(t *testing.T) {
	b := routing.NewBuilder()
	require.NoError(t, b.Register(routing.PointEntry, func(*state.ExecutionState, *signals.Signals) (routing.Token, error) {
		return routing.TokenDataQuery, nil
	}))
	h := newHarness(t, options{routers: b.Build()})

	_, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrRouterNotFound))
	assert.Equal(t, 1, h.rec.count("data_query"))
	assert.True(t, coreerrors.IsSetupFailure(err))
}

func TestRunTurn_StepLimit(t *testing.T) {
	b := routing.NewBuilder()
	loop := func(*state.ExecutionState, *signals.Signals) (routing.Token, error) { return routing.TokenUnknown, nil }
	require.NoError(t, b.Register(routing.PointEntry, loop))
	require.NoError(t, b.Register(routing.PointAfterUnknown, loop))
	h := newHarness(t, options{routers: b.Build(), maxSteps: 4})

	_, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "what's the weather"})
	assert.True(t, errors.Is(err, coreerrors.ErrStepLimit))
	assert.Equal(t, 4, h.rec.count("unknown"))
}

func TestRunTurn_ChainedFallbacks(t *testing.T) {
	h := newHarness(t, options{})
	h.breakers.Get("unknown").ForceOpen()

	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "what's the weather"})
	require.NoError(t, err)
	assert.Equal(t, tokens("unknown", "final"), res.Routes)

	h.breakers.Get("data_query").ForceOpen()
	h.breakers.Get("synthesis").ForceOpen()
	res, err = h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)
	assert.Equal(t, tokens("data_query", "synthesis", "final"), res.Routes)
	assert.Empty(t, res.Reply)
	assert.Empty(t, h.rec.Calls())
}

func TestRunTurn_FallbackToSameAgentExhausted(t *testing.T) {
	policy, err := routing.NewFallbackPolicy([]routing.FallbackRule{
		{Agent: "data_query", Route: routing.TokenDataQuery},
	})
	require.NoError(t, err)
	h := newHarness(t, options{fallbacks: policy})
	h.breakers.Get("data_query").ForceOpen()

	_, err = h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrFallbackExhausted))
	assert.False(t, coreerrors.Recoverable(err))
}

func TestRunTurn_FallbackLimit(t *testing.T) {
	policy, err := routing.NewFallbackPolicy([]routing.FallbackRule{
		{Agent: "data_query", Route: routing.TokenReflect},
		{Agent: "reflect", Route: routing.TokenHistorian},
		{Agent: "historian", Route: routing.TokenCritic},
	})
	require.NoError(t, err)
	h := newHarness(t, options{fallbacks: policy})
	for _, name := range []string{"data_query", "reflect", "historian"} {
		h.breakers.Get(name).ForceOpen()
	}

	_, err = h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	assert.True(t, errors.Is(err, coreerrors.ErrFallbackExhausted))
	assert.Empty(t, h.rec.Calls())
}

func TestRunTurn_UnplannedTokenFallsBack(t *testing.T) {
	b := routing.NewBuilder()
	require.NoError(t, b.Register(routing.PointEntry, func(*state.ExecutionState, *signals.Signals) (routing.Token, error) {
		return routing.TokenHistorian, nil
	}))
	h := newHarness(t, options{routers: b.Build()})

	// clarify plans only the unknown handler: historian and its synthesis
	// fallback are both unplanned, and synthesis falls back to final.
	res, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "what's the weather"})
	require.NoError(t, err)
	assert.Equal(t, tokens("historian", "synthesis", "final"), res.Routes)
	assert.Empty(t, h.rec.Calls())
	assert.Len(t, res.Errors, 2)
}

func TestClearCaches_Idempotent(t *testing.T) {
	h := newHarness(t, options{})
	_, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)

	require.NoError(t, h.ctrl.ClearCaches(context.Background()))
	require.NoError(t, h.ctrl.ClearCaches(context.Background()))

	_, err = h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: "roles"})
	require.NoError(t, err)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*graph.Graph, bool, error) { return nil, false, nil }
func (failingCache) Set(context.Context, string, *graph.Graph) error         { return nil }
func (failingCache) Clear(context.Context) error {
	return errors.New("connection refused")
}

func TestClearCaches_BackendError(t *testing.T) {
	cl, err := intent.NewClassifier(testRules(t), intent.ClassifierConfig{})
	require.NoError(t, err)
	set, err := orchestrator.NewAgentSet()
	require.NoError(t, err)
	reg, err := routing.BuildDefault()
	require.NoError(t, err)

	ctrl, err := orchestrator.New(orchestrator.Config{
		Classifier: cl,
		Agents:     set,
		Graphs:     graph.NewCompiler(graph.CompilerConfig{Routers: reg, Cache: failingCache{}}),
	})
	require.NoError(t, err)

	err = ctrl.ClearCaches(context.Background())
	assert.True(t, errors.Is(err, coreerrors.ErrCacheBackend))
}

func TestRunTurn_ConcurrentTurns(t *testing.T) {
	h := newHarness(t, options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := "roles"
			if i%2 == 0 {
				msg = "what's the weather"
			}
			_, err := h.ctrl.RunTurn(context.Background(), orchestrator.TurnRequest{Message: msg})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, h.breakers.OpenCircuits())
}
