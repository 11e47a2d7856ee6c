// Package remote drives the implementation under test over its byte-stream
// transport, one synchronous round trip per command.
package remote

import (
	"fmt"
	"io"
	"net"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/wire"
)

// DefaultAddr is the conventional loopback endpoint of the remote under test.
const DefaultAddr = "127.0.0.1:10203"

// TransportError is an I/O-level failure on the connection: connection
// reset, short read or write, or any other underlying error. Distinct from
// a decoded failure response, which is a protocol-level outcome.
type TransportError struct {
	Op  string // "write" or "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Executor owns one persistent connection to the remote under test.
//
// The connection is acquired once before the run begins and released via
// Close on every exit path. There is no read timeout: a wedged peer blocks
// the caller indefinitely.
type Executor struct {
	conn io.ReadWriteCloser
}

// Dial connects to the remote at addr (host:port) over TCP.
func Dial(addr string) (*Executor, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial remote %s: %w", addr, err)
	}
	return &Executor{conn: conn}, nil
}

// NewExecutor wraps an already-established connection. Used by tests with
// in-process pipes.
func NewExecutor(conn io.ReadWriteCloser) *Executor {
	return &Executor{conn: conn}
}

// Execute encodes cmd, writes the 3-byte frame, then blocks for exactly one
// 2-byte response frame and decodes it.
//
// A non-nil error is always a *TransportError; a short read means the peer
// closed or crashed mid-response and is reported the same way, wrapping
// io.ErrUnexpectedEOF.
func (e *Executor) Execute(cmd command.Command) (wire.Response, error) {
	frame := wire.EncodeCommand(cmd)
	if _, err := e.conn.Write(frame[:]); err != nil {
		return wire.Response{}, &TransportError{Op: "write", Err: err}
	}

	var buf [wire.ResponseFrameSize]byte
	if _, err := io.ReadFull(e.conn, buf[:]); err != nil {
		return wire.Response{}, &TransportError{Op: "read", Err: err}
	}
	return wire.DecodeResponse(buf), nil
}

// Close releases the connection.
func (e *Executor) Close() error {
	return e.conn.Close()
}
