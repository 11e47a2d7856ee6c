package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Run describes one recorded differential run.
type Run struct {
	ID        string `json:"id"`
	Seed      int64  `json:"seed"`
	Policy    string `json:"policy"`
	Endpoint  string `json:"endpoint"`
	Halt      string `json:"halt"`
	Processed int    `json:"processed"`
	StartedAt string `json:"started_at"`
}

// Step is one recorded command execution. The raw frame bytes (opcode and
// operands) allow byte-exact replay; the rendered strings are for display.
type Step struct {
	Seq      int    `json:"seq"`
	Opcode   byte   `json:"opcode"`
	Operand1 byte   `json:"operand1"`
	Operand2 byte   `json:"operand2"`
	Command  string `json:"command"`
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Matched  bool   `json:"matched"`
}

// BeginRun inserts a new run row and returns its ID.
// Run IDs are UUIDv7, so lexical-by-time ordering matches creation order.
func (s *Store) BeginRun(ctx context.Context, seed int64, policy, endpoint string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seed, policy, endpoint) VALUES (?, ?, ?, ?)
	`, id, seed, policy, endpoint)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun records the halt verdict and processed count for a run.
func (s *Store) FinishRun(ctx context.Context, runID, halt string, processed int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET halt = ?, processed = ? WHERE id = ?
	`, halt, processed, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// AppendStep appends one step to a run's trace. Steps are append-only and
// keyed by (run, seq); re-appending an existing seq is an error.
func (s *Store) AppendStep(ctx context.Context, runID string, step Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps
		(run_id, seq, opcode, operand1, operand2, command, local, remote, matched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		step.Seq,
		step.Opcode,
		step.Operand1,
		step.Operand2,
		step.Command,
		step.Local,
		step.Remote,
		step.Matched,
	)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}
