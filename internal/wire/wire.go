// Package wire implements the fixed-width binary framing of the memory
// protocol: 3-byte command frames out, 2-byte response frames back.
package wire

import (
	"errors"
	"fmt"

	"github.com/bytefold/memdiff/internal/command"
)

// Command opcodes, first byte of every command frame.
const (
	OpRead    byte = 1
	OpWrite   byte = 2
	OpSum     byte = 3
	OpProduct byte = 4
)

// Response status bytes. Any other value is a decode error.
const (
	StatusSuccess byte = 0
	StatusFailure byte = 1
)

// Frame sizes. The protocol is strictly synchronous: one command frame out,
// one response frame back, no pipelining.
const (
	CommandFrameSize  = 3
	ResponseFrameSize = 2
)

// ErrProtocol is the remote explicitly signaling that a command failed
// (status byte 1).
var ErrProtocol = errors.New("remote reported command failure")

// DecodeError reports a malformed response: a status byte that is neither
// success nor failure.
type DecodeError struct {
	Status byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unrecognized response status %#02x", e.Status)
}

// EncodeCommand maps cmd to its 3-byte frame [opcode, operand1, operand2].
// Unused operand slots are zero.
func EncodeCommand(cmd command.Command) [CommandFrameSize]byte {
	switch cmd.Kind {
	case command.KindRead:
		return [CommandFrameSize]byte{OpRead, cmd.Index, 0}
	case command.KindWrite:
		return [CommandFrameSize]byte{OpWrite, cmd.Index, cmd.Value}
	case command.KindSum:
		return [CommandFrameSize]byte{OpSum, 0, 0}
	default:
		return [CommandFrameSize]byte{OpProduct, 0, 0}
	}
}

// DecodeCommand reconstructs a command from its 3-byte frame. Used when
// replaying stored traces; a live run only ever encodes.
func DecodeCommand(frame [CommandFrameSize]byte) (command.Command, error) {
	switch frame[0] {
	case OpRead:
		return command.Read(frame[1]), nil
	case OpWrite:
		return command.Write(frame[1], frame[2]), nil
	case OpSum:
		return command.Sum(), nil
	case OpProduct:
		return command.Product(), nil
	default:
		return command.Command{}, fmt.Errorf("unknown opcode %d", frame[0])
	}
}

// Response is a decoded 2-byte response frame. Err is nil for a success,
// ErrProtocol for an explicit failure, or a *DecodeError for a malformed
// status byte. Value is meaningful only when Err is nil.
type Response struct {
	Value byte
	Err   error
}

// OK reports whether the response is a success.
func (r Response) OK() bool {
	return r.Err == nil
}

// String renders the response for logs and divergence reports.
func (r Response) String() string {
	if r.Err == nil {
		return fmt.Sprintf("Success(%d)", r.Value)
	}
	return fmt.Sprintf("Failure(%v)", r.Err)
}

// DecodeResponse interprets a 2-byte response frame [status, payload].
func DecodeResponse(frame [ResponseFrameSize]byte) Response {
	switch frame[0] {
	case StatusSuccess:
		return Response{Value: frame[1]}
	case StatusFailure:
		return Response{Err: ErrProtocol}
	default:
		return Response{Err: &DecodeError{Status: frame[0]}}
	}
}
