package harness

// Trace event kinds. A kind is the step kind that produced the event.
const (
	KindInvoke  = "invoke"
	KindCall    = "call"
	KindSleep   = "sleep"
	KindMine    = "mine"
	KindLet     = "let"
	KindAssert  = "assert"
	KindInspect = "inspect"
	KindDeploy  = "deploy"
	KindBind    = "bind"
)

// Step outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeRevert = "revert"
)

// Scenario phases.
const (
	PhaseSetup = "setup"
	PhaseFlow  = "flow"
)

// TraceEvent is one chain-touching step of a run. Args and Result are
// rendered values: integers in decimal, addresses by bound name when one
// exists.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	ID      string   `json:"id"`
	Phase   string   `json:"phase"`
	Kind    string   `json:"kind"`
	Action  string   `json:"action"`
	From    string   `json:"from,omitempty"`
	Args    []string `json:"args,omitempty"`
	Outcome string   `json:"outcome"`
	Reason  string   `json:"reason,omitempty"`
	Result  string   `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// RunID identifies the run in the run log and in step ids.
	RunID string `json:"run_id"`

	// Pass is true when no expect clause or assertion failed and the run
	// was not aborted.
	Pass bool `json:"pass"`

	// Aborted is set when an unexpected revert or backend error stopped
	// the run early. Assertions are not evaluated for aborted runs.
	Aborted bool `json:"aborted,omitempty"`

	// Trace contains every chain-touching step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds inspector snapshots keyed by label. Values are metric
	// name to decimal string.
	State map[string]map[string]string `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		RunID:  runID,
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]map[string]string),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// abort marks the run as stopped early.
func (r *Result) abort(err error) {
	r.Aborted = true
	r.AddError(err.Error())
}
