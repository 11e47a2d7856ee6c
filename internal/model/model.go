// Package model implements the local reference model: the trusted oracle
// for the memory protocol's semantics.
package model

import (
	"errors"

	"github.com/bytefold/memdiff/internal/command"
)

// Cells is the fixed number of addressable memory cells.
const Cells = 4

// Local execution errors. These are outcomes, not exceptional control flow:
// the runner compares them against the remote's response.
var (
	ErrInvalidRead  = errors.New("read index out of bounds")
	ErrInvalidWrite = errors.New("write index out of bounds")
	ErrOverflow     = errors.New("arithmetic overflow")
)

// Model holds the reference memory state: exactly Cells unsigned 8-bit
// cells, zero-initialized. Mutated only through Execute with a Write
// command. Lifetime is one run.
type Model struct {
	cells [Cells]byte
}

// New returns a model with all cells zeroed.
func New() *Model {
	return &Model{}
}

// Execute runs cmd against the model and returns the resulting byte or a
// local execution error. Deterministic given the current state and cmd.
func (m *Model) Execute(cmd command.Command) (byte, error) {
	switch cmd.Kind {
	case command.KindRead:
		if int(cmd.Index) >= Cells {
			return 0, ErrInvalidRead
		}
		return m.cells[cmd.Index], nil
	case command.KindWrite:
		if int(cmd.Index) >= Cells {
			return 0, ErrInvalidWrite
		}
		m.cells[cmd.Index] = cmd.Value
		return cmd.Value, nil
	case command.KindSum:
		return m.fold(0, func(acc, v int) int { return acc + v })
	case command.KindProduct:
		return m.fold(1, func(acc, v int) int { return acc * v })
	default:
		return 0, errors.New("unknown command kind")
	}
}

// fold combines all cells left-to-right with checked 8-bit arithmetic,
// failing at the first step whose partial result exceeds 255.
func (m *Model) fold(seed int, step func(acc, v int) int) (byte, error) {
	acc := seed
	for _, v := range m.cells {
		acc = step(acc, int(v))
		if acc > 255 {
			return 0, ErrOverflow
		}
	}
	return byte(acc), nil
}

// Snapshot returns a copy of the current cell values.
func (m *Model) Snapshot() [Cells]byte {
	return m.cells
}
