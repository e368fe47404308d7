package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/vaultharness/internal/chain"
	"github.com/roach88/vaultharness/internal/env"
	"github.com/roach88/vaultharness/internal/inspect"
	"github.com/roach88/vaultharness/internal/ir"
	"github.com/roach88/vaultharness/internal/oracle"
	"github.com/roach88/vaultharness/internal/store"
	"github.com/roach88/vaultharness/internal/testutil"
)

type options struct {
	logger      *slog.Logger
	store       *store.Store
	runIDs      testutil.RunIDGenerator
	fixture     *env.Fixture
	fixtureDir  string
	tolerance   *math.LegacyDec
	output      io.Writer
	backendName string
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore records the run, its steps and its snapshots in st.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithRunIDGenerator sets how run ids are made when the scenario does not
// fix one. The default is UUIDv7.
func WithRunIDGenerator(g testutil.RunIDGenerator) Option {
	return func(o *options) { o.runIDs = g }
}

// WithFixture provisions f instead of loading the scenario's fixture.
func WithFixture(f *env.Fixture) Option {
	return func(o *options) { o.fixture = f }
}

// WithFixtureDir looks the scenario's fixture up by file name in dir.
func WithFixtureDir(dir string) Option {
	return func(o *options) { o.fixtureDir = dir }
}

// WithTolerance overrides the fixture's relative tolerance. A step's own
// tolerance still wins.
func WithTolerance(tol math.LegacyDec) Option {
	return func(o *options) { o.tolerance = &tol }
}

// WithInspectOutput prints every inspect step to w.
func WithInspectOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithBackendName sets the backend label recorded in the run log.
func WithBackendName(name string) Option {
	return func(o *options) { o.backendName = name }
}

// runner holds the state of one scenario execution.
type runner struct {
	ctx       context.Context
	backend   chain.Backend
	env       *env.Environment
	ev        *Evaluator
	kinds     map[string]string
	clock     *testutil.DeterministicClock
	result    *Result
	store     *store.Store
	logger    *slog.Logger
	tolerance math.LegacyDec
	output    io.Writer
}

// stepRef locates a step for error messages.
type stepRef struct {
	phase  string
	index  int
	action string
}

func (at stepRef) abort(code StepErrorCode, err error) *StepError {
	return &StepError{Code: code, Phase: at.phase, Index: at.index, Action: at.action, Err: err}
}

func (at stepRef) String() string {
	return fmt.Sprintf("%s[%d] %s", at.phase, at.index, at.action)
}

// Run provisions the scenario's fixture on b, executes setup and flow,
// then evaluates the assertions.
//
// Failed expectations and assertions are recorded in Result.Errors and
// the run continues. An unexpected revert, a backend error or a bad
// expression stops the run: the result is returned marked Aborted,
// together with a *StepError.
//
// If b implements chain.Snapshotter the chain is restored after the run,
// so scenarios never see each other's state.
func Run(ctx context.Context, b chain.Backend, scenario *Scenario, opts ...Option) (result *Result, err error) {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runIDs: testutil.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	fixture := o.fixture
	if fixture == nil {
		fixture, err = env.LoadFixture(scenario.FixturePath(o.fixtureDir))
		if err != nil {
			return nil, &StepError{Code: ErrCodeProvision, Err: err}
		}
	}

	if snap, ok := b.(chain.Snapshotter); ok {
		id, serr := snap.Snapshot(ctx)
		if serr != nil {
			return nil, &StepError{Code: ErrCodeBackend, Err: fmt.Errorf("snapshot: %w", serr)}
		}
		defer func() {
			if rerr := snap.Revert(context.WithoutCancel(ctx), id); rerr != nil {
				o.logger.Warn("restore chain failed", "scenario", scenario.Name, "error", rerr)
				if err == nil {
					err = fmt.Errorf("restore chain after %s: %w", scenario.Name, rerr)
				}
			}
		}()
	}

	e, err := env.Provision(ctx, b, fixture, env.WithLogger(o.logger))
	if err != nil {
		return nil, &StepError{Code: ErrCodeProvision, Err: err}
	}

	runID := scenario.RunID
	if runID == "" {
		runID = o.runIDs.Generate()
	}

	r, err := newRunner(ctx, b, e, runID, o)
	if err != nil {
		return nil, &StepError{Code: ErrCodeProvision, Err: err}
	}

	if r.store != nil {
		backend := o.backendName
		if backend == "" {
			backend = backendName(b)
		}
		if err := r.store.WriteRun(ctx, store.Run{
			ID: runID, Scenario: scenario.Name, Fixture: fixture.Name, Backend: backend,
		}); err != nil {
			return nil, &StepError{Code: ErrCodeRunLog, Err: err}
		}
	}

	o.logger.Info("scenario started", "scenario", scenario.Name, "run_id", runID, "fixture", fixture.Name)

	abortErr := r.runPhase(PhaseSetup, scenario.Setup)
	if abortErr == nil {
		abortErr = r.runPhase(PhaseFlow, scenario.Flow)
	}

	if abortErr != nil {
		r.result.abort(abortErr)
	} else {
		actx := &AssertionContext{
			Ctx:       ctx,
			Store:     r.store,
			Eval:      r.ev,
			Tolerance: r.tolerance,
			RunID:     runID,
		}
		for _, msg := range EvaluateAssertions(r.result, scenario.Assertions, actx) {
			r.result.AddError(msg)
		}
	}

	if r.store != nil {
		if ferr := r.store.FinishRun(ctx, runID, runStatus(r.result), len(r.result.Errors)); ferr != nil {
			o.logger.Warn("finish run failed", "run_id", runID, "error", ferr)
		}
	}

	o.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"run_id", runID,
		"pass", r.result.Pass,
		"aborted", r.result.Aborted,
		"errors", len(r.result.Errors),
	)

	if abortErr != nil {
		return r.result, abortErr
	}
	return r.result, nil
}

func newRunner(ctx context.Context, b chain.Backend, e *env.Environment, runID string, o options) (*runner, error) {
	unit, err := e.Want.Unit(ctx)
	if err != nil {
		return nil, err
	}

	contracts := make(map[string]*chain.Contract)
	kinds := make(map[string]string)
	for name, tok := range e.Tokens {
		contracts[name] = tok.Contract
		kinds[name] = chain.KindToken
	}
	for name, c := range map[string]*chain.Contract{
		env.NameVault:          e.Vault.Contract,
		env.NameStrategy:       e.Strategy.Contract,
		env.NameDelegatedVault: e.DelegatedVault.Contract,
	} {
		contracts[name] = c
		kinds[name] = e.Kind(name)
	}

	ev := NewEvaluator(ctx, e.Names(), contracts, unit)
	ev.vars["amount"] = new(big.Int).Set(e.Amount)
	ev.vars["weth_amount"] = new(big.Int).Set(e.WethAmount)

	tol := e.Tolerance
	if o.tolerance != nil {
		tol = *o.tolerance
	}

	return &runner{
		ctx:       ctx,
		backend:   b,
		env:       e,
		ev:        ev,
		kinds:     kinds,
		clock:     testutil.NewDeterministicClock(),
		result:    NewResult(runID),
		store:     o.store,
		logger:    o.logger,
		tolerance: tol,
		output:    o.output,
	}, nil
}

// backendName labels a run whose caller did not name the backend.
func backendName(b chain.Backend) string {
	return fmt.Sprintf("%T", b)
}

func runStatus(r *Result) string {
	switch {
	case r.Aborted:
		return store.StatusAborted
	case r.Pass:
		return store.StatusPass
	}
	return store.StatusFail
}

func (r *runner) runPhase(phase string, steps []Step) error {
	for i := range steps {
		if err := r.step(phase, i, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

// step executes one step. A non-nil return aborts the run; failed
// expectations are recorded on the result instead.
func (r *runner) step(phase string, index int, s *Step) error {
	kind, value, err := s.kind()
	if err != nil {
		return &StepError{Code: ErrCodeEval, Phase: phase, Index: index, Err: err}
	}
	at := stepRef{phase: phase, index: index, action: kind + " " + value}

	switch kind {
	case KindInvoke:
		at.action = value
		err = r.invoke(at, s)
	case KindCall:
		at.action = value
		err = r.call(at, s)
	case KindSleep:
		err = r.advance(at, KindSleep, value)
	case KindMine:
		err = r.advance(at, KindMine, value)
	case KindLet:
		err = r.let(at, s)
	case KindAssert:
		err = r.assert(at, s)
	case KindInspect:
		err = r.inspect(at, s)
	case KindDeploy:
		err = r.deploy(at, s)
	case KindBind:
		err = r.bind(at, s)
	}
	if err != nil {
		return err
	}
	r.logger.Debug("step completed", "phase", phase, "index", index, "action", at.action)
	return nil
}

func (r *runner) invoke(at stepRef, s *Step) error {
	target, method, _ := splitAction(s.Invoke)
	c, err := r.ev.contract(target)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	from, err := r.ev.EvalAddress(s.From)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	args, rendered, err := r.evalArgs(c, method, s.Args)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}

	_, txErr := c.Transact(r.ctx, from, method, args...)
	if _, err := r.record(at, KindInvoke, s.Invoke, s.From, rendered, txErr, ""); err != nil {
		return err
	}
	return r.settle(at, s.Expect, txErr)
}

func (r *runner) call(at stepRef, s *Step) error {
	target, method, _ := splitAction(s.Call)
	c, err := r.ev.contract(target)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	args, rendered, err := r.evalArgs(c, method, s.Args)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}

	out, callErr := c.Call(r.ctx, method, args...)
	var value any
	var shown string
	if callErr == nil {
		if value, err = firstOutput(s.Call, out); err != nil {
			return at.abort(ErrCodeBackend, err)
		}
		shown = r.ev.render(value)
	}
	if _, err := r.record(at, KindCall, s.Call, "", rendered, callErr, shown); err != nil {
		return err
	}
	if err := r.settle(at, s.Expect, callErr); err != nil || callErr != nil {
		return err
	}

	if s.Save != "" {
		if err := r.ev.Set(s.Save, value); err != nil {
			return at.abort(ErrCodeEval, err)
		}
	}
	if s.Expect != nil && s.Expect.Value != "" {
		expected, err := r.ev.Eval(s.Expect.Value)
		if err != nil {
			return at.abort(ErrCodeEval, err)
		}
		if err := compareValues(AssertEqual, value, expected, r.tolerance); err != nil {
			r.fail(at, err)
		}
	}
	return nil
}

// settle checks a step's outcome against its expect clause. A revert the
// step did not expect aborts; a wrong or missing revert is recorded.
func (r *runner) settle(at stepRef, expect *ExpectClause, stepErr error) error {
	if expect != nil && expect.Revert != nil {
		err := oracle.ExpectRevert(stepErr, *expect.Revert)
		var ue *oracle.UnexpectedOutcomeError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &ue):
			r.fail(at, err)
			return nil
		default:
			return at.abort(ErrCodeBackend, err)
		}
	}
	switch {
	case stepErr == nil:
		return nil
	case chain.IsRevert(stepErr):
		return at.abort(ErrCodeUnexpectedRevert, stepErr)
	}
	return at.abort(ErrCodeBackend, stepErr)
}

func (r *runner) advance(at stepRef, kind, src string) error {
	n, err := r.ev.EvalInt(src)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return at.abort(ErrCodeEval, fmt.Errorf("%s %s out of range", kind, n))
	}
	if kind == KindSleep {
		err = r.backend.AdvanceTime(r.ctx, n.Uint64())
	} else {
		err = r.backend.Mine(r.ctx, n.Uint64())
	}
	if err != nil {
		return at.abort(ErrCodeBackend, err)
	}
	_, err = r.record(at, kind, kind, "", []string{n.String()}, nil, "")
	return err
}

func (r *runner) let(at stepRef, s *Step) error {
	v, err := r.ev.Eval(s.Value)
	if err != nil {
		return r.classify(at, err)
	}
	if err := r.ev.Set(s.Let, v); err != nil {
		return at.abort(ErrCodeEval, err)
	}
	return nil
}

func (r *runner) assert(at stepRef, s *Step) error {
	actual, err := r.ev.Eval(s.Actual)
	if err != nil {
		return r.classify(at, err)
	}
	expected, err := r.ev.Eval(s.Expected)
	if err != nil {
		return r.classify(at, err)
	}
	tol, err := r.toleranceFor(s.Tolerance)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	if err := compareValues(s.Assert, actual, expected, tol); err != nil {
		r.fail(at, fmt.Errorf("%s: %w", s.Actual, err))
	}
	return nil
}

func (r *runner) toleranceFor(src string) (math.LegacyDec, error) {
	if src == "" {
		return r.tolerance, nil
	}
	return oracle.ParseTolerance(src)
}

func (r *runner) inspect(at stepRef, s *Step) error {
	name := s.Inspect
	c, err := r.ev.contract(name)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}

	var snap any
	switch r.kinds[name] {
	case chain.KindStrategy:
		snap, err = inspect.Strategy(r.ctx, &chain.Strategy{Contract: c}, r.env.Want)
	case chain.KindVault:
		vault := &chain.Vault{Token: &chain.Token{Contract: c}}
		snap, err = inspect.Vault(r.ctx, vault, r.env.Strategy, r.env.Want)
	default:
		return at.abort(ErrCodeEval, fmt.Errorf("cannot inspect %s: not a strategy or vault", name))
	}
	if err != nil {
		return r.classify(at, err)
	}

	if r.output != nil {
		if err := inspect.Print(r.output, snap); err != nil {
			return at.abort(ErrCodeBackend, fmt.Errorf("print snapshot: %w", err))
		}
	}

	label := s.Label
	if label == "" {
		label = name
	}
	ev, err := r.record(at, KindInspect, KindInspect+"."+name, "", []string{label}, nil, "")
	if err != nil {
		return err
	}

	metrics := inspect.Metrics(snap)
	shown := make(map[string]string, len(metrics))
	for k, v := range metrics {
		shown[k] = r.ev.render(v)
	}
	r.result.State[label] = shown

	if r.store != nil {
		id, err := ir.SnapshotID(r.result.RunID, label, ev.Seq, metrics)
		if err != nil {
			return at.abort(ErrCodeRunLog, err)
		}
		if err := r.store.WriteSnapshot(r.ctx, store.Snapshot{
			ID: id, RunID: r.result.RunID, Seq: ev.Seq, Label: label, Metrics: metrics,
		}); err != nil {
			return at.abort(ErrCodeRunLog, err)
		}
	}
	return nil
}

func (r *runner) deploy(at stepRef, s *Step) error {
	name := s.Deploy
	if err := r.checkUnbound(name); err != nil {
		return at.abort(ErrCodeEval, err)
	}
	sender := s.From
	if sender == "" {
		sender = env.RoleStrategist
	}
	from, err := r.ev.EvalAddress(sender)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}

	strat, deployErr := env.DeployStrategy(r.ctx, r.env, from)
	var shown string
	if deployErr == nil {
		shown = strat.Address.Hex()
	}
	if _, err := r.record(at, KindDeploy, KindDeploy, sender, []string{name}, deployErr, shown); err != nil {
		return err
	}
	if deployErr != nil {
		return r.settle(at, nil, deployErr)
	}

	r.ev.bindContract(name, chain.NewStrategy(r.backend, name, strat.Address).Contract)
	r.kinds[name] = chain.KindStrategy
	return nil
}

func (r *runner) bind(at stepRef, s *Step) error {
	name := s.Bind
	if err := r.checkUnbound(name); err != nil {
		return at.abort(ErrCodeEval, err)
	}
	a, err := chain.ABIForKind(s.Kind)
	if err != nil {
		return at.abort(ErrCodeEval, err)
	}
	addr, err := r.ev.EvalAddress(s.Address)
	if err != nil {
		return r.classify(at, err)
	}

	if _, err := r.record(at, KindBind, KindBind, "", []string{name, s.Kind}, nil, addr.Hex()); err != nil {
		return err
	}
	r.ev.bindContract(name, chain.NewContract(r.backend, name, addr, a))
	r.kinds[name] = s.Kind
	return nil
}

func (r *runner) checkUnbound(name string) error {
	if _, ok := r.ev.names[name]; ok {
		return fmt.Errorf("%q is already bound", name)
	}
	if _, ok := r.ev.vars[name]; ok {
		return fmt.Errorf("%q is already a variable", name)
	}
	return nil
}

// classify turns an evaluation error into an abort: reverts from view
// calls inside expressions are unexpected reverts, everything else is an
// expression error.
func (r *runner) classify(at stepRef, err error) error {
	if chain.IsRevert(err) {
		return at.abort(ErrCodeUnexpectedRevert, err)
	}
	return at.abort(ErrCodeEval, err)
}

func (r *runner) evalArgs(c *chain.Contract, method string, srcs []string) ([]any, []string, error) {
	vals := make([]any, len(srcs))
	for i, src := range srcs {
		v, err := r.ev.Eval(src)
		if err != nil {
			return nil, nil, err
		}
		vals[i] = v
	}
	args, err := coerceArgs(c, method, vals)
	if err != nil {
		return nil, nil, err
	}
	return args, r.ev.renderAll(vals), nil
}

// record appends a trace event for a step that reached the chain and
// writes it to the run log. Steps that failed with a non-revert error are
// not recorded.
func (r *runner) record(at stepRef, kind, action, from string, args []string, stepErr error, result string) (TraceEvent, error) {
	ev := TraceEvent{
		Phase:   at.phase,
		Kind:    kind,
		Action:  action,
		From:    from,
		Args:    args,
		Outcome: OutcomeOK,
		Result:  result,
	}
	if stepErr != nil {
		reason, ok := chain.RevertReason(stepErr)
		if !ok {
			return ev, nil
		}
		ev.Outcome = OutcomeRevert
		ev.Reason = reason
	}

	ev.Seq = r.clock.Next()
	id, err := ir.StepID(r.result.RunID, action, from, args, ev.Seq)
	if err != nil {
		return ev, at.abort(ErrCodeRunLog, err)
	}
	ev.ID = id
	r.result.Trace = append(r.result.Trace, ev)

	if r.store != nil {
		if err := r.store.WriteStep(r.ctx, store.Step{
			ID:      ev.ID,
			RunID:   r.result.RunID,
			Seq:     ev.Seq,
			Phase:   ev.Phase,
			Kind:    ev.Kind,
			Action:  ev.Action,
			Sender:  ev.From,
			Args:    ev.Args,
			Outcome: ev.Outcome,
			Reason:  ev.Reason,
			Result:  ev.Result,
		}); err != nil {
			return ev, at.abort(ErrCodeRunLog, err)
		}
	}
	return ev, nil
}

func (r *runner) fail(at stepRef, err error) {
	r.logger.Debug("step failed", "step", at.String(), "error", err)
	r.result.AddError(fmt.Sprintf("%s: %v", at, err))
}

// compareValues applies a value assertion. approx, greater and less need
// integers; equal also compares addresses, bools and strings.
func compareValues(op string, actual, expected any, tol math.LegacyDec) error {
	a, aInt := actual.(*big.Int)
	e, eInt := expected.(*big.Int)
	if aInt && eInt {
		switch op {
		case AssertApprox:
			return oracle.Approx(a, e, tol)
		case AssertEqual:
			return oracle.Equal(a, e)
		case AssertGreater:
			return oracle.Greater(a, e)
		case AssertLess:
			return oracle.Less(a, e)
		}
		return fmt.Errorf("unknown comparison %q", op)
	}
	if op != AssertEqual {
		return fmt.Errorf("%s needs integers, got %s and %s", op, typeName(actual), typeName(expected))
	}
	if !valuesEqual(actual, expected) {
		return fmt.Errorf("expected %v, got %v", display(expected), display(actual))
	}
	return nil
}

func display(v any) string {
	if addr, ok := v.(common.Address); ok {
		return addr.Hex()
	}
	return fmt.Sprint(v)
}
