// Package command defines the closed set of memory-protocol commands and a
// reproducible random generator over them.
package command

import "fmt"

// Kind identifies one of the four command variants.
type Kind uint8

const (
	KindRead Kind = iota + 1
	KindWrite
	KindSum
	KindProduct
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindSum:
		return "Sum"
	case KindProduct:
		return "Product"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Command is one memory-protocol command. Index is meaningful for Read and
// Write; Value only for Write. Commands are immutable once constructed.
type Command struct {
	Kind  Kind
	Index byte
	Value byte
}

// Read returns a command that reads the cell at index i.
func Read(i byte) Command { return Command{Kind: KindRead, Index: i} }

// Write returns a command that stores v at index i.
func Write(i, v byte) Command { return Command{Kind: KindWrite, Index: i, Value: v} }

// Sum returns the command that folds all cells with checked addition.
func Sum() Command { return Command{Kind: KindSum} }

// Product returns the command that folds all cells with checked multiplication.
func Product() Command { return Command{Kind: KindProduct} }

// String renders the command with its meaningful operands only.
func (c Command) String() string {
	switch c.Kind {
	case KindRead:
		return fmt.Sprintf("Read(%d)", c.Index)
	case KindWrite:
		return fmt.Sprintf("Write(%d, %d)", c.Index, c.Value)
	case KindSum:
		return "Sum"
	case KindProduct:
		return "Product"
	default:
		return fmt.Sprintf("Command{%s, %d, %d}", c.Kind, c.Index, c.Value)
	}
}
