// Package testutil provides deterministic stand-ins for the remote
// implementation under test: in-process executors for runner tests and a
// loopback TCP server speaking the real wire protocol for end-to-end tests.
package testutil

import (
	"io"
	"net"
	"sync"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/wire"
)

// MemoryRemote emulates a remote peer in process, frame-for-frame: commands
// are encoded, handled against an independent 4-cell memory, and the 2-byte
// response decoded, so tests exercise the full codec path.
//
// Mutate, when set, rewrites the response frame before decoding. Tests use
// it to inject bugs (off-by-one values, bogus status bytes).
type MemoryRemote struct {
	cells  [4]byte
	Mutate func(frame [2]byte) [2]byte
}

// NewMemoryRemote returns an emulated remote with zeroed cells.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{}
}

// Execute implements the runner's RemoteExecutor over the in-process peer.
// It never fails at the transport level.
func (m *MemoryRemote) Execute(cmd command.Command) (wire.Response, error) {
	frame := m.HandleFrame(wire.EncodeCommand(cmd))
	if m.Mutate != nil {
		frame = m.Mutate(frame)
	}
	return wire.DecodeResponse(frame), nil
}

// HandleFrame implements the remote's side of the protocol: one 3-byte
// command frame in, one 2-byte response frame out.
func (m *MemoryRemote) HandleFrame(frame [wire.CommandFrameSize]byte) [wire.ResponseFrameSize]byte {
	op, a, b := frame[0], frame[1], frame[2]
	switch op {
	case wire.OpRead:
		if int(a) >= len(m.cells) {
			return [2]byte{wire.StatusFailure, 0}
		}
		return [2]byte{wire.StatusSuccess, m.cells[a]}
	case wire.OpWrite:
		if int(a) >= len(m.cells) {
			return [2]byte{wire.StatusFailure, 0}
		}
		m.cells[a] = b
		return [2]byte{wire.StatusSuccess, b}
	case wire.OpSum:
		acc := 0
		for _, v := range m.cells {
			acc += int(v)
			if acc > 255 {
				return [2]byte{wire.StatusFailure, 0}
			}
		}
		return [2]byte{wire.StatusSuccess, byte(acc)}
	case wire.OpProduct:
		acc := 1
		for _, v := range m.cells {
			acc *= int(v)
			if acc > 255 {
				return [2]byte{wire.StatusFailure, 0}
			}
		}
		return [2]byte{wire.StatusSuccess, byte(acc)}
	default:
		return [2]byte{wire.StatusFailure, 0}
	}
}

// FailingRemote reports the same transport failure on every call.
type FailingRemote struct {
	Err error
}

// Execute always fails with the configured error.
func (f *FailingRemote) Execute(command.Command) (wire.Response, error) {
	return wire.Response{}, f.Err
}

// ScriptedRemote returns canned responses in order, then panics; tests that
// use it know exactly how many commands the runner will send.
type ScriptedRemote struct {
	Responses []wire.Response
	calls     int
}

// Execute pops the next scripted response.
func (s *ScriptedRemote) Execute(command.Command) (wire.Response, error) {
	resp := s.Responses[s.calls]
	s.calls++
	return resp, nil
}

// Server speaks the wire protocol on a loopback TCP listener. Each accepted
// connection loops: read one 3-byte frame, answer with whatever the handler
// returns. A nil response (or keepOpen=false) closes the connection, which
// the client observes as a short read.
type Server struct {
	ln     net.Listener
	handle func(frame [wire.CommandFrameSize]byte) (resp []byte, keepOpen bool)

	mu     sync.Mutex
	closed bool
}

// NewServer starts a server on an ephemeral loopback port.
func NewServer(handle func([wire.CommandFrameSize]byte) ([]byte, bool)) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, handle: handle}
	go s.acceptLoop()
	return s, nil
}

// NewCorrectServer starts a server backed by a fresh MemoryRemote, i.e. a
// bug-free implementation under test.
func NewCorrectServer() (*Server, error) {
	mem := NewMemoryRemote()
	return NewServer(func(frame [wire.CommandFrameSize]byte) ([]byte, bool) {
		resp := mem.HandleFrame(frame)
		return resp[:], true
	})
}

// Addr returns the server's host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting and releases the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.ln.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	for {
		var frame [wire.CommandFrameSize]byte
		if _, err := io.ReadFull(conn, frame[:]); err != nil {
			return
		}
		resp, keepOpen := s.handle(frame)
		if len(resp) > 0 {
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
		if !keepOpen {
			return
		}
	}
}
