package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Framer implements the frame-splitting scheme from spec §4.3: the wire is
// a stream of bytes, and each OpenWebNet frame is delimited by its own
// "##" terminator (there is no length-prefixed or chunked framing like
// NETCONF's RFC6242 -- the terminator itself is the only boundary marker).
//
// Framer is not a Transport on its own (it has no Close); it's meant to be
// embedded into the tcp and serial transports, the way the teacher embeds
// it into its ssh and tls transports.
type Framer struct {
	r *bufio.Reader
	w io.Writer

	mu sync.Mutex // serializes Send so one frame's bytes never interleave another's
}

// NewFramer returns a new Framer reading from r and writing to w.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		r: bufio.NewReader(r),
		w: w,
	}
}

// Send writes frame in a single call, holding the Framer's write lock for
// the duration so two goroutines racing to send can't interleave their
// bytes on the wire (spec §4.3: "send(bytes) writes atomically per frame").
func (f *Framer) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.w.Write(frame)
	if err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("transport: short write: wrote %d of %d bytes", n, len(frame))
	}
	return nil
}

// Recv reads bytes until (and including) the next "##" terminator and
// returns them as one frame. If the stream ends after part of a frame has
// been read it returns a wrapped io.ErrUnexpectedEOF; if it ends before any
// byte of a new frame, it returns io.EOF.
//
// A field made up of three or more consecutive empty parameters serializes
// to a run of '#' characters that itself contains "##" (spec §4.1), so a
// candidate terminator is only accepted once the run of '#' characters it
// ends actually stops -- if another '#' is waiting right behind it, that
// byte belongs to the same run and the true terminator is still ahead.
// This widens recognition to runs of any length, but splitting a stream on
// "##" at all is inherently unable to distinguish a field that happens to
// end in "##" from the frame's own terminator when a fresh frame's leading
// '*' immediately follows; OpenWebNet gateways don't emit frames with
// trailing empty-parameter runs like that in practice, and a caller that
// needs to round-trip such a frame exactly should hand it to ParseFrame
// directly rather than split it out of a live stream.
//
// The disambiguating peek only ever looks at bytes the underlying reader
// has already buffered: Recv must not block waiting for a byte that would
// resolve the ambiguity, since for a genuine terminator at the end of the
// stream no such byte is ever coming.
func (f *Framer) Recv() ([]byte, error) {
	var buf []byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return nil, fmt.Errorf("transport: stream ended mid-frame: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		buf = append(buf, b)
		if len(buf) >= 2 && buf[len(buf)-2] == '#' && buf[len(buf)-1] == '#' {
			if f.r.Buffered() > 0 {
				if next, err := f.r.Peek(1); err == nil && len(next) == 1 && next[0] == '#' {
					continue
				}
			}
			return buf, nil
		}
	}
}
