package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// ReadRun returns the run with the given id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, fixture, backend, status, errors
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Scenario, &r.Fixture, &r.Backend, &r.Status, &r.Errors)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns every run in the order they were written.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, fixture, backend, status, errors
		FROM runs ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Fixture, &r.Backend, &r.Status, &r.Errors); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadSteps returns the trace of a run.
// Ordering is deterministic: ORDER BY seq ASC, id ASC COLLATE BINARY.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, phase, kind, action, sender, args, outcome, reason, result
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var (
			st   Step
			args string
		)
		if err := rows.Scan(&st.ID, &st.RunID, &st.Seq, &st.Phase, &st.Kind, &st.Action,
			&st.Sender, &args, &st.Outcome, &st.Reason, &st.Result); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if st.Args, err = unmarshalArgs(args); err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// SnapshotRecord is a snapshot as read back: metric values are decimal
// strings.
type SnapshotRecord struct {
	ID      string
	RunID   string
	Seq     int64
	Label   string
	Metrics map[string]string
}

// ReadSnapshots returns the inspector readings of a run in seq order.
func (s *Store) ReadSnapshots(ctx context.Context, runID string) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, label, metrics
		FROM snapshots
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []SnapshotRecord{}
	for rows.Next() {
		var (
			rec     SnapshotRecord
			metrics string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seq, &rec.Label, &metrics); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if rec.Metrics, err = unmarshalMetrics(metrics); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rec.ID, err)
		}
		snaps = append(snaps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}
