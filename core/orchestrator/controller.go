package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/switchyard/core/circuit"
	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/graph"
	"github.com/adalundhe/switchyard/core/intent"
	"github.com/adalundhe/switchyard/core/routing"
	"github.com/adalundhe/switchyard/core/signals"
	"github.com/adalundhe/switchyard/core/state"
)

// Signal policy keys, in the order they run.
const (
	PolicyOverride = "override"
	PolicyPrecheck = "precheck"
	PolicyAction   = "action"
	PolicyCRUD     = "crud"
)

// TurnRequest is the input of one turn.
type TurnRequest struct {
	Message    string         `json:"message"`
	SessionID  string         `json:"session_id"`
	AgentName  string         `json:"agent_name,omitempty"`
	EntryPoint string         `json:"entry_point,omitempty"`
	State      map[string]any `json:"state,omitempty"`
}

// TurnResult is the output of one turn. State is the updated execution state
// for the caller to persist.
type TurnResult struct {
	TurnID   string           `json:"turn_id"`
	Reply    string           `json:"reply"`
	Resolved bool             `json:"resolved"`
	Intent   string           `json:"intent"`
	Action   string           `json:"action,omitempty"`
	Urgency  string           `json:"urgency,omitempty"`
	Rule     string           `json:"rule,omitempty"`
	Pattern  string           `json:"pattern"`
	Routes   []routing.Token  `json:"routes"`
	Signals  signals.Snapshot `json:"signals"`
	State    map[string]any   `json:"state"`
	Errors   []string         `json:"errors,omitempty"`
}

// Controller is safe for concurrent turns; each turn owns its own state and
// signals while breakers and caches are shared.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Controller, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "orchestrator"),
	}, nil
}

// Classify exposes the classifier without running a turn.
func (c *Controller) Classify(text string) (intent.Result, error) {
	res, err := c.cfg.Classifier.Classify(text)
	c.cfg.Metrics.Classification(res.Resolved)
	return res, err
}

// Breakers exposes the breaker registry for administration.
func (c *Controller) Breakers() *circuit.Registry {
	return c.cfg.Breakers
}

// ClearCaches drops cached classifications and compiled graphs. It is
// idempotent; a failing graph cache backend is reported as ErrCacheBackend.
func (c *Controller) ClearCaches(ctx context.Context) error {
	c.cfg.Classifier.Purge()
	if err := c.cfg.Graphs.Clear(ctx); err != nil {
		if _, ok := coreerrors.KindOf(err); ok {
			return err
		}
		return coreerrors.New(coreerrors.KindCacheBackend, "clear", "graph", "clear graph cache", err)
	}
	c.logger.Info("caches cleared")
	return nil
}

// turn carries the mutable state of one RunTurn call.
type turn struct {
	id        string
	req       TurnRequest
	st        *state.ExecutionState
	sig       *signals.Signals
	g         *graph.Graph
	routes    []routing.Token
	errs      []string
	fallbacks int
	logger    *slog.Logger
}

// RunTurn executes one turn.
func (c *Controller) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	t := &turn{
		id:  uuid.NewString(),
		req: req,
		st:  state.FromMap(req.State).Clone(),
	}
	t.logger = c.logger.With("turn_id", t.id, "session_id", req.SessionID)
	t.sig = signals.New(signals.ObserverFunc(func(conf signals.Conflict) {
		t.logger.Warn("routing signal conflict",
			"locked", conf.Locked, "proposed", conf.Proposed, "key", conf.Key)
		c.cfg.Metrics.SignalConflict(conf.Key)
	}))
	t.st.ResetTurn()

	res, err := c.Classify(req.Message)
	if err != nil && !errors.Is(err, coreerrors.ErrNoRuleMatched) {
		return nil, c.finish(t, err)
	}
	if err := t.st.SetClassification(res); err != nil {
		return nil, c.finish(t, err)
	}

	override := req.AgentName
	if override == "" {
		override = req.EntryPoint
	}
	p := c.cfg.Planner.Plan(res, override)
	t.logger.Debug("turn planned", "intent", res.Intent, "rule", res.Rule, "pattern", p.PatternName)

	c.applyPolicies(t, res, override)

	t.g, err = c.cfg.Graphs.Graph(ctx, p)
	if err != nil {
		return nil, c.finish(t, err)
	}

	if err := c.walk(ctx, t); err != nil {
		return nil, c.finish(t, err)
	}
	_ = c.finish(t, nil)

	return &TurnResult{
		TurnID:   t.id,
		Reply:    reply(t),
		Resolved: res.Resolved,
		Intent:   res.Intent,
		Action:   res.Action,
		Urgency:  res.Urgency,
		Rule:     res.Rule,
		Pattern:  p.PatternName,
		Routes:   t.routes,
		Signals:  t.sig.Snapshot(),
		State:    t.st.Map(),
		Errors:   t.errs,
	}, nil
}

func (c *Controller) finish(t *turn, err error) error {
	switch {
	case err == nil:
		c.cfg.Metrics.Turn("ok")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.cfg.Metrics.Turn("cancelled")
		t.logger.Info("turn cancelled", "err", err)
	default:
		c.cfg.Metrics.Turn("error")
		t.logger.Error("turn aborted", "err", err, "routes", t.routes)
	}
	return err
}

// applyPolicies seeds the routing signals. An explicit agent override locks
// first, so later policies can only record conflicts against it.
func (c *Controller) applyPolicies(t *turn, res intent.Result, override string) {
	propose := func(p signals.Proposal) {
		if _, err := t.sig.Propose(p); err != nil {
			t.errs = append(t.errs, err.Error())
		}
	}

	if override != "" {
		propose(signals.Proposal{Target: override, Reason: "caller override", Key: PolicyOverride, Lock: true})
	}
	if !res.Resolved {
		propose(signals.Proposal{Target: string(routing.TokenUnknown), Reason: "no rule matched", Key: PolicyPrecheck})
		return
	}
	propose(signals.Proposal{Target: string(routing.TokenDataQuery), Reason: "intent " + res.Intent, Key: PolicyAction})
	if res.Confidence >= c.cfg.LockConfidence {
		propose(signals.Proposal{
			Target: string(routing.TokenDataQuery),
			Reason: fmt.Sprintf("confidence %.2f on %s", res.Confidence, res.Rule),
			Key:    PolicyCRUD,
			Lock:   true,
		})
	}
}

// walk follows the graph from the entry point until a terminal token.
func (c *Controller) walk(ctx context.Context, t *turn) error {
	point := routing.PointEntry
	var pending routing.Token

	for steps := 1; ; steps++ {
		if steps > c.cfg.MaxSteps {
			return coreerrors.New(coreerrors.KindStepLimit, "walk", string(point),
				fmt.Sprintf("no terminal route after %d steps", c.cfg.MaxSteps), nil)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		tok := pending
		pending = ""
		if tok == "" {
			next, err := c.nextToken(t, point)
			if err != nil {
				return err
			}
			tok = next
		}

		t.routes = append(t.routes, tok)
		t.st.AppendRoute(string(tok))
		c.cfg.Metrics.Route(string(tok))
		t.logger.Debug("route", "route_point", point, "route", tok)

		if tok.Terminal() {
			return nil
		}

		node, ok := t.g.Node(tok)
		if !ok {
			next, err := c.fallback(t, string(tok), "not planned for this turn")
			if err != nil {
				return err
			}
			pending = next
			continue
		}

		denied, err := c.invoke(ctx, t, node)
		if err != nil {
			return err
		}
		if denied {
			next, err := c.fallback(t, node.Agent, "circuit open")
			if err != nil {
				return err
			}
			pending = next
			continue
		}
		point = node.RoutePoint
	}
}

// nextToken honors an unconsumed locked signal, otherwise asks the router.
func (c *Controller) nextToken(t *turn, point routing.Point) (routing.Token, error) {
	if target, ok := t.sig.Authoritative(); ok {
		t.sig.Consume()
		tok := routing.Token(target)
		if !tok.Valid() {
			return "", coreerrors.New(coreerrors.KindInvalidRoute, "signal", t.sig.Key(),
				fmt.Sprintf("locked target %q outside vocabulary", target), nil)
		}
		return tok, nil
	}
	return c.cfg.Routers.Route(point, t.st, t.sig)
}

func (c *Controller) fallback(t *turn, agent, reason string) (routing.Token, error) {
	t.fallbacks++
	c.cfg.Metrics.Fallback(agent)

	next := c.cfg.Fallbacks.For(agent)
	if t.fallbacks > c.cfg.MaxFallbacks || string(next) == agent {
		return "", coreerrors.New(coreerrors.KindFallbackExhausted, "fallback", agent,
			fmt.Sprintf("%s after %d fallbacks", reason, t.fallbacks-1), nil)
	}
	t.errs = append(t.errs, fmt.Sprintf("%s: %s, falling back to %s", agent, reason, next))
	t.logger.Warn("taking fallback route", "agent", agent, "reason", reason, "route", next)
	return next, nil
}

type callResult struct {
	resp Response
	err  error
}

// invoke calls one agent behind its breaker. denied is true when the breaker
// refused the call; a returned error aborts the turn.
func (c *Controller) invoke(ctx context.Context, t *turn, node graph.Node) (denied bool, err error) {
	agent, ok := c.cfg.Agents.Get(node.Agent)
	if !ok {
		return false, fmt.Errorf("agent %q not registered", node.Agent)
	}

	permit, err := c.cfg.Breakers.Allow(node.Agent)
	if err != nil {
		t.logger.Info("agent call denied", "agent", node.Agent, "breaker_key", node.Agent, "err", err)
		c.cfg.Metrics.AgentCall(node.Agent, "denied", 0)
		return true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	req := Request{
		Message:   t.req.Message,
		SessionID: t.req.SessionID,
		TurnID:    t.id,
		State:     t.st.Clone(),
	}
	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		resp, err := agent.Run(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = callResult{err: callCtx.Err()}
	}
	elapsed := time.Since(start)

	outcome, callErr := classifyCall(ctx, callCtx, node.Agent, res.err)
	c.cfg.Breakers.Report(permit, outcome)
	c.cfg.Metrics.AgentCall(node.Agent, outcome.String(), elapsed)

	switch outcome {
	case circuit.Success:
		t.st.RecordOutput(node.Agent, state.Output{Text: res.resp.Text, Metadata: res.resp.Metadata})
		return false, nil
	case circuit.Cancelled:
		return false, callErr
	default:
		kind, _ := coreerrors.KindOf(callErr)
		t.st.RecordFailure(node.Agent, state.Failure{Kind: kind.String(), Message: callErr.Error()})
		t.errs = append(t.errs, callErr.Error())
		t.logger.Warn("agent call failed", "agent", node.Agent, "err", callErr, "duration", elapsed)
		return false, nil
	}
}

func classifyCall(turnCtx, callCtx context.Context, agent string, err error) (circuit.Outcome, error) {
	switch {
	case err == nil:
		return circuit.Success, nil
	case turnCtx.Err() != nil:
		return circuit.Cancelled, coreerrors.New(coreerrors.KindAgentCallCancelled, "call", agent, "turn cancelled", turnCtx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return circuit.Timeout, coreerrors.New(coreerrors.KindAgentCallTimeout, "call", agent, "call timed out", err)
	default:
		return circuit.Failure, coreerrors.New(coreerrors.KindAgentCallFailed, "call", agent, "call failed", err)
	}
}

// reply picks the user-facing text: synthesis, then the unknown-intent
// handler, then the most recent agent output.
func reply(t *turn) string {
	for _, name := range []routing.Token{routing.TokenSynthesis, routing.TokenUnknown} {
		if out, ok := t.st.Output(string(name)); ok {
			return out.Text
		}
	}
	for i := len(t.routes) - 1; i >= 0; i-- {
		if out, ok := t.st.Output(string(t.routes[i])); ok {
			return out.Text
		}
	}
	return ""
}
