package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against one fixture: setup steps, flow steps
// and assertions evaluated after the flow.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is the CUE fixture to provision, relative to the scenario
	// file unless a fixture directory is given to Run.
	Fixture string `yaml:"fixture"`

	// Setup runs before the flow. A setup step may not expect a revert.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the scenario body.
	Flow []Step `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RunID is an optional fixed run id so golden traces and step ids are
	// stable. If empty, each run gets a fresh UUIDv7.
	RunID string `yaml:"run_id,omitempty"`

	// Dir is the directory of the scenario file.
	Dir string `yaml:"-"`
}

// Step is one scenario step. Exactly one of the kind fields (Invoke,
// Call, Sleep, Mine, Let, Assert, Inspect, Deploy, Bind) is set; the rest
// are its parameters. Every value is an expression (see Evaluator).
type Step struct {
	// Invoke sends a transaction: "target.method".
	Invoke string `yaml:"invoke,omitempty"`
	// Call runs a view: "target.method".
	Call string `yaml:"call,omitempty"`
	// Sleep advances chain time by this many seconds.
	Sleep string `yaml:"sleep,omitempty"`
	// Mine produces this many blocks.
	Mine string `yaml:"mine,omitempty"`
	// Let saves Value under this variable name.
	Let string `yaml:"let,omitempty"`
	// Assert checks Actual against Expected: approx, equal, greater, less.
	Assert string `yaml:"assert,omitempty"`
	// Inspect snapshots a bound strategy or vault.
	Inspect string `yaml:"inspect,omitempty"`
	// Deploy creates a fresh strategy against the run's vault and binds it
	// under this name.
	Deploy string `yaml:"deploy,omitempty"`
	// Bind attaches a handle of Kind to the address Address evaluates to.
	Bind string `yaml:"bind,omitempty"`

	From      string        `yaml:"from,omitempty"`
	Args      []string      `yaml:"args,omitempty"`
	Save      string        `yaml:"save,omitempty"`
	Expect    *ExpectClause `yaml:"expect,omitempty"`
	Value     string        `yaml:"value,omitempty"`
	Actual    string        `yaml:"actual,omitempty"`
	Expected  string        `yaml:"expected,omitempty"`
	Tolerance string        `yaml:"tolerance,omitempty"`
	Label     string        `yaml:"label,omitempty"`
	Kind      string        `yaml:"kind,omitempty"`
	Address   string        `yaml:"address,omitempty"`
}

// ExpectClause states the expected outcome of an invoke or call step.
type ExpectClause struct {
	// Revert is the exact revert reason the step must fail with.
	Revert *string `yaml:"revert,omitempty"`

	// Value is an expression the call's result must equal.
	Value string `yaml:"value,omitempty"`
}

// Assertion validates the trace, a value or the run log after the flow.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is "target.method" (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// From restricts trace_contains to one sender.
	From string `yaml:"from,omitempty"`

	// Args are expressions matched positionally against the recorded
	// arguments (trace_contains).
	Args []string `yaml:"args,omitempty"`

	// Reason requires a matching revert (trace_contains).
	Reason string `yaml:"reason,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actual, Expected and Tolerance are expressions (approx, equal,
	// greater, less).
	Actual    string `yaml:"actual,omitempty"`
	Expected  string `yaml:"expected,omitempty"`
	Tolerance string `yaml:"tolerance,omitempty"`

	// Table, Where and Expect query the run log (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertApprox        = "approx"
	AssertEqual         = "equal"
	AssertGreater       = "greater"
	AssertLess          = "less"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// kind returns the step kind and the value of its kind field.
func (s *Step) kind() (string, string, error) {
	fields := []struct {
		kind, value string
	}{
		{KindInvoke, s.Invoke},
		{KindCall, s.Call},
		{KindSleep, s.Sleep},
		{KindMine, s.Mine},
		{KindLet, s.Let},
		{KindAssert, s.Assert},
		{KindInspect, s.Inspect},
		{KindDeploy, s.Deploy},
		{KindBind, s.Bind},
	}
	var kind, value string
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if kind != "" {
			return "", "", fmt.Errorf("step has both %s and %s", kind, f.kind)
		}
		kind, value = f.kind, f.value
	}
	if kind == "" {
		return "", "", fmt.Errorf("step has no kind (invoke, call, sleep, mine, let, assert, inspect, deploy, bind)")
	}
	return kind, value, nil
}

// FixturePath resolves the fixture file. With a fixture directory the
// fixture is looked up there by file name.
func (s *Scenario) FixturePath(fixtureDir string) string {
	if filepath.IsAbs(s.Fixture) {
		return s.Fixture
	}
	if fixtureDir != "" {
		return filepath.Join(fixtureDir, filepath.Base(s.Fixture))
	}
	return filepath.Join(s.Dir, s.Fixture)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.Dir = filepath.Dir(path)
	return scenario, nil
}

// ParseScenario parses scenario YAML. Dir is left empty.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Fixture == "" {
		return fmt.Errorf("fixture is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i := range s.Setup {
		if err := validateStep(PhaseSetup, i, &s.Setup[i]); err != nil {
			return err
		}
		if s.Setup[i].Expect != nil && s.Setup[i].Expect.Revert != nil {
			return fmt.Errorf("setup[%d]: setup steps may not expect a revert", i)
		}
	}

	for i := range s.Flow {
		if err := validateStep(PhaseFlow, i, &s.Flow[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the parameters a step kind needs.
func validateStep(phase string, index int, s *Step) error {
	kind, value, err := s.kind()
	if err != nil {
		return fmt.Errorf("%s[%d]: %w", phase, index, err)
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%s[%d] %s: %s", phase, index, kind, fmt.Sprintf(format, args...))
	}

	switch kind {
	case KindInvoke, KindCall:
		if _, _, err := splitAction(value); err != nil {
			return fail("%v", err)
		}
		if kind == KindInvoke && s.From == "" {
			return fail("from is required")
		}
		if kind == KindCall && s.From != "" {
			return fail("from only applies to invoke steps")
		}
		if s.Expect != nil {
			if s.Expect.Revert == nil && s.Expect.Value == "" {
				return fail("expect needs revert or value")
			}
			if s.Expect.Revert != nil && s.Expect.Value != "" {
				return fail("expect cannot have both revert and value")
			}
			if kind == KindInvoke && s.Expect.Value != "" {
				return fail("expect.value only applies to call steps")
			}
		}
		if kind == KindInvoke && s.Save != "" {
			return fail("save only applies to call steps")
		}
	case KindLet:
		if s.Value == "" {
			return fail("value is required")
		}
	case KindAssert:
		if !isValueAssertion(value) {
			return fail("unknown comparison %q", value)
		}
		if s.Actual == "" || s.Expected == "" {
			return fail("actual and expected are required")
		}
	case KindBind:
		if s.Kind == "" || s.Address == "" {
			return fail("kind and address are required")
		}
	}
	if s.Expect != nil && kind != KindInvoke && kind != KindCall {
		return fail("expect only applies to invoke and call steps")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertApprox, AssertEqual, AssertGreater, AssertLess:
		if a.Actual == "" || a.Expected == "" {
			return fmt.Errorf("assertions[%d]: actual and expected are required for %s", index, a.Type)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func isValueAssertion(t string) bool {
	switch t {
	case AssertApprox, AssertEqual, AssertGreater, AssertLess:
		return true
	}
	return false
}

// splitAction splits "target.method".
func splitAction(action string) (target, method string, err error) {
	i := strings.LastIndex(action, ".")
	if i <= 0 || i == len(action)-1 {
		return "", "", fmt.Errorf("action %q must be target.method", action)
	}
	return action[:i], action[i+1:], nil
}
