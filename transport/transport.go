// Package transport implements the byte-stream abstraction a Session reads
// and writes delimited OpenWebNet frames over (spec §4.3). Transport is
// medium-agnostic: the tcp and serial subpackages each wrap a Framer around
// a concrete net.Conn / serial port.
package transport

import (
	"errors"
	"sync"
)

// ErrClosed is returned from Send/Recv once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is used by a Session to talk to a gateway. It is frame
// oriented: Send writes one whole frame atomically, Recv returns one whole
// frame (the raw bytes from the opening '*' through the closing "##").
type Transport interface {
	// Send writes one frame to the gateway. Sessions already serialize
	// sends, so implementations are not required to support concurrent
	// callers, but should not corrupt the stream if handed one anyway.
	Send(frame []byte) error

	// Recv blocks for the next whole frame, or returns ErrClosed (or a
	// wrapped io.EOF) once the stream ends.
	Recv() ([]byte, error)

	Close() error
}

// FakeTransport is a test double that lets tests script a gateway's
// responses and inspect what a Session sent, without a real socket or
// serial port. Modeled on the teacher's transport.TestTransport, but
// channel-based so Recv can block a reader goroutine the way a real
// transport would rather than return io.EOF on an empty queue.
type FakeTransport struct {
	inputs chan []byte

	mu      sync.Mutex
	outputs [][]byte
	closed  bool
}

// NewFakeTransport returns a FakeTransport with no queued input. Queued
// frames are buffered, so QueueRecv never blocks the caller.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{inputs: make(chan []byte, 256)}
}

// QueueRecv appends a frame the fake will hand back on a subsequent Recv
// call. It accepts bare frame text, e.g. "*#*1##".
func (f *FakeTransport) QueueRecv(frame string) {
	f.inputs <- []byte(frame)
}

func (f *FakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.outputs = append(f.outputs, cp)
	return nil
}

func (f *FakeTransport) Recv() ([]byte, error) {
	frame, ok := <-f.inputs
	if !ok {
		return nil, ErrClosed
	}
	return frame, nil
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.inputs)
	return nil
}

// Sent returns a copy of every frame handed to Send so far, in order.
func (f *FakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.outputs))
	for i, b := range f.outputs {
		out[i] = string(b)
	}
	return out
}
