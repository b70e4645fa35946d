package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal channel failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// ResourceExhausted means the OS refused to allocate pipe descriptors.
	ResourceExhausted
	// ProcessDuplicationFailed means the worker process could not be started.
	ProcessDuplicationFailed
	// ProcessReplacementFailed means the worker could not become the filter program.
	ProcessReplacementFailed
	// ChannelWriteFailed means writing to the outbound pipe failed.
	ChannelWriteFailed
	// ChannelReadFailed means reading from the inbound pipe failed.
	ChannelReadFailed
	// ChannelClosed means the inbound pipe reached end-of-stream.
	ChannelClosed
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	ResourceExhausted:        "resource exhausted",
	ProcessDuplicationFailed: "process duplication failed",
	ProcessReplacementFailed: "process replacement failed",
	ChannelWriteFailed:       "channel write failed",
	ChannelReadFailed:        "channel read failed",
	ChannelClosed:            "channel closed",
}

var kindLabels = map[Kind]string{
	KindUnknown:              "unknown",
	ResourceExhausted:        "resource_exhausted",
	ProcessDuplicationFailed: "process_duplication_failed",
	ProcessReplacementFailed: "process_replacement_failed",
	ChannelWriteFailed:       "channel_write_failed",
	ChannelReadFailed:        "channel_read_failed",
	ChannelClosed:            "channel_closed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label returns the kind in snake_case, suitable for metric labels.
func (k Kind) Label() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	return kindLabels[KindUnknown]
}

// Sentinel errors, one per kind. A *ChannelError matches the sentinel of its
// own kind under errors.Is.
var (
	ErrResourceExhausted        = errors.New("resource exhausted")
	ErrProcessDuplicationFailed = errors.New("process duplication failed")
	ErrProcessReplacementFailed = errors.New("process replacement failed")
	ErrChannelWriteFailed       = errors.New("channel write failed")
	ErrChannelReadFailed        = errors.New("channel read failed")
	ErrChannelClosed            = errors.New("channel closed")
)

// Sentinel errors for endpoint misuse and platform limits.
var (
	// ErrEndpointClosed indicates an operation on a pipe end that was already closed.
	ErrEndpointClosed = errors.New("endpoint closed")

	// ErrUnsupportedPlatform indicates the OS has no anonymous pipe + descriptor
	// inheritance model this package can drive.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

func (k Kind) sentinel() error {
	switch k {
	case ResourceExhausted:
		return ErrResourceExhausted
	case ProcessDuplicationFailed:
		return ErrProcessDuplicationFailed
	case ProcessReplacementFailed:
		return ErrProcessReplacementFailed
	case ChannelWriteFailed:
		return ErrChannelWriteFailed
	case ChannelReadFailed:
		return ErrChannelReadFailed
	case ChannelClosed:
		return ErrChannelClosed
	}
	return nil
}

// ChannelError is a fatal failure of pipe setup or of the exchange.
type ChannelError struct {
	Kind Kind
	// Op names the step that failed: create, spawn, exec, initialize, write, read.
	Op  string
	Err error
}

// New returns a *ChannelError.
func New(kind Kind, op string, err error) *ChannelError {
	return &ChannelError{Kind: kind, Op: op, Err: err}
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *ChannelError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *ChannelError in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// OpOf returns the Op of the first *ChannelError in err's chain, or "".
func OpOf(err error) string {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Op
	}
	return ""
}
