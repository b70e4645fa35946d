// Package channel allocates the two anonymous pipes of a duplex exchange
// between a controller process and a worker process.
//
// A Duplex owns four endpoints. Outbound carries bytes from the controller to
// the worker, Inbound carries them back. The package never decides who keeps
// which end: the worker bootstrap and the controller close the ends they do
// not own. Pipes are created close-on-exec so unrelated children never inherit
// them; only an explicit spawn hands ends to a worker.
package channel

import (
	"errors"
	"os"
	"sync"
)

// Endpoint roles, in the order the ends are handed to a re-executed worker.
const (
	RoleOutboundRead  = "outbound.read"
	RoleOutboundWrite = "outbound.write"
	RoleInboundRead   = "inbound.read"
	RoleInboundWrite  = "inbound.write"
)

// ErrWouldBlock is returned by Endpoint.Read on a non-blocking end when no
// bytes are currently available.
var ErrWouldBlock = errors.New("no data available")

// Endpoint is one end of a pipe.
type Endpoint struct {
	role string
	fd   int
	file *os.File

	// mu is held for reading across every syscall on fd, so Close cannot
	// release the descriptor while a call is using it.
	mu     sync.RWMutex
	closed bool
}

func newEndpoint(role string, fd int) *Endpoint {
	return &Endpoint{
		role: role,
		fd:   fd,
		file: os.NewFile(uintptr(fd), "pipe:"+role),
	}
}

// Role returns the endpoint role, e.g. "outbound.write".
func (e *Endpoint) Role() string {
	return e.role
}

// Fd returns the raw descriptor, or -1 once the endpoint is closed.
func (e *Endpoint) Fd() int {
	if e.Closed() {
		return -1
	}
	return e.fd
}

// File returns the endpoint as an *os.File so it can be handed to a child
// process. The caller must not close it; use Close on the endpoint.
func (e *Endpoint) File() *os.File {
	return e.file
}

// Closed reports whether Close has been called.
func (e *Endpoint) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close releases the descriptor. It waits for calls in progress on the
// endpoint, including a write blocked on a full pipe. Closing twice is a
// no-op.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.file.Close()
}

// Pipe is a unidirectional byte stream.
type Pipe struct {
	ReadEnd  *Endpoint
	WriteEnd *Endpoint
}

func (p Pipe) close() error {
	return errors.Join(p.ReadEnd.Close(), p.WriteEnd.Close())
}

// Duplex is a pair of pipes: Outbound (controller writes, worker reads) and
// Inbound (worker writes, controller reads).
type Duplex struct {
	Outbound Pipe
	Inbound  Pipe
}

// Endpoints returns all four ends in inheritance order: outbound read,
// outbound write, inbound read, inbound write.
func (d *Duplex) Endpoints() []*Endpoint {
	return []*Endpoint{
		d.Outbound.ReadEnd,
		d.Outbound.WriteEnd,
		d.Inbound.ReadEnd,
		d.Inbound.WriteEnd,
	}
}

// Open returns the roles of the ends that are still open.
func (d *Duplex) Open() []string {
	var roles []string
	for _, ep := range d.Endpoints() {
		if !ep.Closed() {
			roles = append(roles, ep.Role())
		}
	}
	return roles
}

// Close closes every end that is still open.
func (d *Duplex) Close() error {
	return errors.Join(d.Outbound.close(), d.Inbound.close())
}
