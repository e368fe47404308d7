// Package ir holds the canonical encoding used to give trace records stable,
// content-addressed identities.
//
// Every trace event the harness records is reduced to a small tree of
// strings, integers, booleans, arrays and objects. Token amounts never enter
// the tree as numbers: they are rendered as decimal strings first, so the
// encoding stays exact for uint256 values.
//
// ir imports nothing internal.
package ir
