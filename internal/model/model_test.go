package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytefold/memdiff/internal/command"
)

// apply executes cmd and requires success.
func apply(t *testing.T, m *Model, cmd command.Command) byte {
	t.Helper()
	v, err := m.Execute(cmd)
	require.NoError(t, err, "command %s should succeed", cmd)
	return v
}

func TestModel_StartsZeroed(t *testing.T) {
	m := New()
	assert.Equal(t, [Cells]byte{}, m.Snapshot())
	for i := byte(0); i < Cells; i++ {
		assert.Equal(t, byte(0), apply(t, m, command.Read(i)))
	}
}

func TestModel_WriteThenRead(t *testing.T) {
	m := New()
	for i := byte(0); i < Cells; i++ {
		for _, v := range []byte{0, 1, 127, 255} {
			assert.Equal(t, v, apply(t, m, command.Write(i, v)), "write returns the stored value")
			assert.Equal(t, v, apply(t, m, command.Read(i)))
		}
	}
}

func TestModel_OutOfBoundsRejected(t *testing.T) {
	m := New()
	for _, i := range []byte{4, 5, 100, 255} {
		_, err := m.Execute(command.Read(i))
		assert.ErrorIs(t, err, ErrInvalidRead, "Read(%d)", i)

		_, err = m.Execute(command.Write(i, 1))
		assert.ErrorIs(t, err, ErrInvalidWrite, "Write(%d)", i)
	}
	// Failed writes must not touch state.
	assert.Equal(t, [Cells]byte{}, m.Snapshot())
}

func TestModel_ReadDoesNotMutate(t *testing.T) {
	m := New()
	apply(t, m, command.Write(2, 9))
	before := m.Snapshot()
	apply(t, m, command.Read(2))
	assert.Equal(t, before, m.Snapshot())
}

func TestModel_Sum(t *testing.T) {
	m := New()
	apply(t, m, command.Write(0, 10))
	apply(t, m, command.Write(1, 20))
	apply(t, m, command.Write(2, 30))
	apply(t, m, command.Write(3, 40))
	assert.Equal(t, byte(100), apply(t, m, command.Sum()))
}

func TestModel_SumOverflowAtFirstOffendingStep(t *testing.T) {
	// Scenario: 200 + 100 already exceeds 255; the trailing zero cells
	// must not rescue the fold.
	m := New()
	apply(t, m, command.Write(0, 200))
	apply(t, m, command.Write(1, 100))

	_, err := m.Execute(command.Sum())
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestModel_SumBoundary(t *testing.T) {
	m := New()
	apply(t, m, command.Write(0, 255))
	assert.Equal(t, byte(255), apply(t, m, command.Sum()))

	apply(t, m, command.Write(1, 1))
	_, err := m.Execute(command.Sum())
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestModel_ProductOfZeroedCells(t *testing.T) {
	m := New()
	assert.Equal(t, byte(0), apply(t, m, command.Product()))
}

func TestModel_Product(t *testing.T) {
	m := New()
	apply(t, m, command.Write(0, 2))
	apply(t, m, command.Write(1, 3))
	apply(t, m, command.Write(2, 5))
	apply(t, m, command.Write(3, 7))
	assert.Equal(t, byte(210), apply(t, m, command.Product()))
}

func TestModel_ProductOverflow(t *testing.T) {
	m := New()
	apply(t, m, command.Write(0, 16))
	apply(t, m, command.Write(1, 16))
	// 16*16 = 256 overflows at the second step even though cells 2 and 3
	// are zero.
	_, err := m.Execute(command.Product())
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestModel_ProductOverflowBeforeZero(t *testing.T) {
	m := New()
	apply(t, m, command.Write(0, 255))
	apply(t, m, command.Write(1, 2))
	apply(t, m, command.Write(2, 0))
	_, err := m.Execute(command.Product())
	assert.ErrorIs(t, err, ErrOverflow, "later zero cell must not mask the overflow")
}

func TestModel_UnknownKind(t *testing.T) {
	m := New()
	_, err := m.Execute(command.Command{Kind: command.Kind(9)})
	assert.Error(t, err)
}
