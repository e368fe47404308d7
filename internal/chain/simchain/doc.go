// Package simchain is a deterministic, in-process chain.Backend.
//
// It models the contracts a vault scenario touches, not the EVM: ERC-20
// tokens, lending markets with simple-interest indexes, a share vault with
// debt ratios and a six hour locked-profit unlock, a delegated vault with a
// time-based yield strategy, and the leveraged lending strategy itself.
// Contracts reject calls with the same revert reasons the deployed ones use.
//
// Every transaction runs against a copy of the state and is committed only
// if it succeeds, so a revert leaves no trace. Time moves only through
// AdvanceTime. Accounting uses cosmossdk.io/math.
package simchain
