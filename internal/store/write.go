package store

import (
	"context"
	"fmt"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusAborted = "aborted"
)

// Run is one execution of a scenario.
type Run struct {
	ID       string
	Scenario string
	Fixture  string
	Backend  string
	Status   string
	Errors   int
}

// Step is one trace event. Args and Result hold rendered values.
type Step struct {
	ID      string
	RunID   string
	Seq     int64
	Phase   string
	Kind    string
	Action  string
	Sender  string
	Args    []string
	Outcome string
	Reason  string
	Result  string
}

// Snapshot is one inspector reading: raw integer metrics under a label.
type Snapshot struct {
	ID      string
	RunID   string
	Seq     int64
	Label   string
	Metrics map[string]any
}

// WriteRun records the start of a run. The status is always
// StatusRunning until FinishRun.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, fixture, backend, status, errors)
		VALUES (?, ?, ?, ?, ?, 0)
	`, run.ID, run.Scenario, run.Fixture, run.Backend, StatusRunning)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// DeleteRun removes a run with its steps and snapshots. Deleting an
// unknown run is not an error.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM snapshots WHERE run_id = ?`,
		`DELETE FROM steps WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

// FinishRun sets the final status and error count of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, errors int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, errors = ? WHERE id = ?
	`, status, errors, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// WriteStep inserts a trace event. Step ids are content-addressed, so a
// duplicate write is silently ignored.
func (s *Store) WriteStep(ctx context.Context, step Step) error {
	argsJSON, err := marshalArgs(step.Args)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps
		(id, run_id, seq, phase, kind, action, sender, args, outcome, reason, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		step.ID,
		step.RunID,
		step.Seq,
		step.Phase,
		step.Kind,
		step.Action,
		step.Sender,
		argsJSON,
		step.Outcome,
		step.Reason,
		step.Result,
	)
	if err != nil {
		return fmt.Errorf("write step: %w", err)
	}
	return nil
}

// WriteSnapshot inserts an inspector reading. Duplicate ids are ignored.
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	metricsJSON, err := marshalMetrics(snap.Metrics)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, run_id, seq, label, metrics)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, snap.ID, snap.RunID, snap.Seq, snap.Label, metricsJSON)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
