package output

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/LiboWorks/pipedemo/internal/controller"
)

// Feed prefixes.
const (
	PrefixTX = "TX | "
	PrefixRX = "RX | "
)

// Display writes one feed line per sent or received message to out and
// failures to errOut.
type Display struct {
	out        io.Writer
	errOut     io.Writer
	transcript *Transcript

	mu     sync.Mutex
	err    error
	counts map[controller.EventKind]int
}

// DisplayOption configures a Display.
type DisplayOption func(*Display)

// WithTranscript also records every event in t.
func WithTranscript(t *Transcript) DisplayOption {
	return func(d *Display) {
		d.transcript = t
	}
}

// NewDisplay creates a display writing to out and errOut.
func NewDisplay(out, errOut io.Writer, opts ...DisplayOption) *Display {
	d := &Display{
		out:    out,
		errOut: errOut,
		counts: make(map[controller.EventKind]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Consume renders events until the channel is closed. It keeps draining
// after a write error so the producer never stalls, and returns the first
// such error.
func (d *Display) Consume(events <-chan controller.Event) error {
	for e := range events {
		d.Render(e)
	}
	return d.Err()
}

// Render writes a single event.
func (d *Display) Render(e controller.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts[e.Kind]++

	var err error
	switch e.Kind {
	case controller.EventSent:
		err = writeFeedLine(d.out, PrefixTX, e.Data)
	case controller.EventReceived:
		err = writeFeedLine(d.out, PrefixRX, e.Data)
	case controller.EventFailed:
		_, err = fmt.Fprintf(d.errOut, "pipedemo: %v\n", e.Err)
	}
	d.record(err)

	if d.transcript != nil {
		d.record(d.transcript.Record(e))
	}
}

// Count returns how many events of kind have been rendered.
func (d *Display) Count(kind controller.EventKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[kind]
}

// Err returns the first write error.
func (d *Display) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Display) record(err error) {
	if err != nil && d.err == nil {
		d.err = err
	}
}

// writeFeedLine writes prefix, data without its terminator, and a newline.
func writeFeedLine(w io.Writer, prefix string, data []byte) error {
	var b bytes.Buffer
	b.Grow(len(prefix) + len(data) + 1)
	b.WriteString(prefix)
	b.Write(bytes.TrimSuffix(data, []byte{'\n'}))
	b.WriteByte('\n')
	_, err := w.Write(b.Bytes())
	return err
}
