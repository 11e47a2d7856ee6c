package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// GetRun loads one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed, policy, endpoint, halt, processed, started_at
		FROM runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

// LatestRun loads the most recently started run.
// UUIDv7 IDs sort by creation time, so ordering by id is ordering by time.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed, policy, endpoint, halt, processed, started_at
		FROM runs ORDER BY id DESC LIMIT 1
	`)
	return scanRun(row)
}

// ListRuns returns all runs, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, policy, endpoint, halt, processed, started_at
		FROM runs ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Seed, &r.Policy, &r.Endpoint, &r.Halt, &r.Processed, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadSteps returns a run's trace in sequence order.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, opcode, operand1, operand2, command, local, remote, matched
		FROM steps WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.Seq, &st.Opcode, &st.Operand1, &st.Operand2, &st.Command, &st.Local, &st.Remote, &st.Matched); err != nil {
			return nil, fmt.Errorf("read steps: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	return steps, nil
}

func scanRun(row *sql.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Seed, &r.Policy, &r.Endpoint, &r.Halt, &r.Processed, &r.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}
