// Package harness runs scripted scenarios against a provisioned vault
// and strategy.
//
// A scenario names a fixture, runs setup and flow steps against a chain
// backend, and checks assertions once the flow is done.
//
// # Scenario Format
//
//	name: emergency_exit
//	description: "Emergency exit returns all assets to the vault"
//	fixture: ../fixtures/inverse.cue
//	run_id: emergency-exit
//	setup:
//	  - invoke: want.approve
//	    from: user
//	    args: [vault, amount]
//	  - invoke: vault.deposit
//	    from: user
//	    args: [amount]
//	flow:
//	  - invoke: strategy.harvest
//	    from: gov
//	  - sleep: 86400
//	  - invoke: strategy.setEmergencyExit
//	    from: gov
//	  - call: strategy.estimatedTotalAssets
//	    save: left
//	  - assert: less
//	    actual: left
//	    expected: units(1) / 1000
//	assertions:
//	  - type: approx
//	    actual: want.balanceOf(vault)
//	    expected: amount
//	    tolerance: 0.1%
//
// Step kinds are invoke, call, sleep, mine, let, assert, inspect, deploy
// and bind. Values are expressions: integer literals (500e18), names bound
// by the fixture (user, vault, want), variables (amount, anything saved),
// arithmetic, comparisons, units(x), max_uint256() and view calls such as
// vault.totalAssets().
//
// # Outcomes
//
// An invoke or call may expect a revert reason. A wrong or missing revert
// and a failed assert are recorded and the run continues. A revert nobody
// expected aborts the run and assertions are skipped.
//
// # Assertion Types
//
//   - approx, equal, greater, less: compare two expressions
//   - trace_contains: an action appears, optionally with sender, args or revert reason
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: one run log row holds the expected values
//
// # Determinism
//
// Trace sequence numbers come from testutil.DeterministicClock and step ids
// hash the run id, action, sender, arguments and sequence. A scenario
// with a fixed run_id produces byte-identical traces on the simulated
// chain, which is what golden files compare.
package harness
