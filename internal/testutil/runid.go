package testutil

import "github.com/google/uuid"

// RunIDGenerator produces identifiers for harness runs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-ordered UUIDv7 run ids. It is the default
// outside of tests.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7, falling back to a random UUID if the clock
// source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// FixedRunIDGenerator returns the same run id every time so golden traces
// and step ids are byte-identical between runs.
//
// The id is usually set in the scenario YAML:
//
//	run_id: "test-run-airdrop"
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator. An empty id becomes
// "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
