package controller

import (
	"errors"
	"io"

	"github.com/LiboWorks/pipedemo/internal/channel"
)

// LineAssembler turns an unframed byte stream into newline-terminated lines.
//
// It reads one byte per read call so that a burst containing several lines
// is never over-consumed: the bytes after the first newline stay in the
// pipe for the next Poll.
type LineAssembler struct {
	buf           []byte
	awaitingReset bool
	one           [1]byte
}

// NewLineAssembler returns an empty assembler.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{}
}

// Buffered returns the bytes of the line assembled so far. After a line has
// been reported it still returns that line until the next Poll.
func (a *LineAssembler) Buffered() []byte {
	return a.buf
}

// Poll reads from r until a newline completes a line or r reports
// channel.ErrWouldBlock. The returned line includes its terminator and is
// owned by the caller.
//
// ok is false with a nil error when no complete line is available yet. Any
// other read error, io.EOF included, is returned as is; bytes of an
// incomplete line stay buffered.
func (a *LineAssembler) Poll(r io.Reader) (line []byte, ok bool, err error) {
	if a.awaitingReset {
		a.buf = a.buf[:0]
		a.awaitingReset = false
	}

	for {
		n, err := r.Read(a.one[:])
		if n == 1 {
			a.buf = append(a.buf, a.one[0])
			if a.one[0] == '\n' {
				a.awaitingReset = true
				line = make([]byte, len(a.buf))
				copy(line, a.buf)
				return line, true, nil
			}
			continue
		}
		if errors.Is(err, channel.ErrWouldBlock) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		// A reader returning (0, nil) has nothing more to give right now.
		return nil, false, nil
	}
}
