// Package chain is the harness's view of an EVM chain.
//
// Backend is the narrow set of operations the harness needs: read-only
// calls, signed transactions from unlocked or impersonated accounts,
// deployments, native balances and clock control. Two implementations
// exist: RPCBackend talks to a forked development node (anvil or hardhat)
// over JSON-RPC, and simchain.Backend is a deterministic in-process model
// of the same contracts.
//
// Token, Vault and Strategy are typed handles over Contract, which pairs an
// address with its ABI. All amounts crossing this package are *big.Int in
// the token's smallest unit.
package chain
