//go:build unix

package channel

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// pipeFunc allocates one pipe with close-on-exec set on both ends.
var pipeFunc = pipeCloexec

// Create allocates the outbound and inbound pipes. It fails with a
// ResourceExhausted error if the OS cannot allocate descriptors; in that case
// no descriptor stays open.
func Create() (*Duplex, error) {
	out, err := newPipe("outbound")
	if err != nil {
		return nil, err
	}
	in, err := newPipe("inbound")
	if err != nil {
		_ = out.close()
		return nil, err
	}
	return &Duplex{Outbound: out, Inbound: in}, nil
}

func newPipe(name string) (Pipe, error) {
	var fds [2]int
	if err := pipeFunc(fds[:]); err != nil {
		return Pipe{}, pipeerr.New(pipeerr.ResourceExhausted, "create",
			os.NewSyscallError("pipe "+name, err))
	}
	return Pipe{
		ReadEnd:  newEndpoint(name+".read", fds[0]),
		WriteEnd: newEndpoint(name+".write", fds[1]),
	}, nil
}

// Read reads up to len(p) bytes with a single read call. It returns
// ErrWouldBlock when the end is non-blocking and empty, and io.EOF on a
// zero-length read.
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, pipeerr.ErrEndpointClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(e.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// WriteOnce issues a single write call and may write fewer than len(p)
// bytes. Callers that need the whole buffer delivered must loop.
func (e *Endpoint) WriteOnce(p []byte) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, pipeerr.ErrEndpointClosed
	}
	for {
		n, err := unix.Write(e.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("write", err)
		}
		return n, nil
	}
}

// SetNonblock switches the end between blocking and non-blocking reads.
func (e *Endpoint) SetNonblock(nonblocking bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return pipeerr.ErrEndpointClosed
	}
	if err := unix.SetNonblock(e.fd, nonblocking); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}

// Nonblocking reports whether O_NONBLOCK is set on the end.
func (e *Endpoint) Nonblocking() (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false, pipeerr.ErrEndpointClosed
	}
	flags, err := unix.FcntlInt(uintptr(e.fd), unix.F_GETFL, 0)
	if err != nil {
		return false, os.NewSyscallError("fcntl", err)
	}
	return flags&unix.O_NONBLOCK != 0, nil
}
