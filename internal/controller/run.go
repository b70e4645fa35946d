package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventSent carries the exact bytes written to the worker.
	EventSent EventKind = iota + 1
	// EventReceived carries one assembled inbound line, terminator included.
	EventReceived
	// EventFailed carries the fatal error that ended the loop.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventSent:
		return "sent"
	case EventReceived:
		return "received"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event is one observable outcome of the exchange loop.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
	At   time.Time
}

// FailureKind returns the failure kind of an EventFailed event.
func (e Event) FailureKind() pipeerr.Kind {
	return pipeerr.KindOf(e.Err)
}

// Sink receives loop events. It is called from the loop goroutine and must
// not call back into the Controller.
type Sink func(Event)

// Source yields outbound messages and io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Run is the steady-state exchange. Each iteration sends the next message,
// polls once for an inbound line and then waits for the configured interval.
//
// Run returns nil when the source is exhausted and every outstanding line
// has come back (or the drain timeout expired), ctx.Err() when ctx is done,
// and the fatal channel error otherwise. Source errors other than io.EOF end
// the loop as well. Nothing is retried.
func (c *Controller) Run(ctx context.Context, src Source, sink Sink) error {
	if sink == nil {
		sink = func(Event) {}
	}

	outstanding := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			c.log.Debug("Message source exhausted", zap.Int("outstanding", outstanding))
			return c.drainWithTimeout(ctx, outstanding, sink)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next message: %w", err)
		}

		if err := c.Send(msg); err != nil {
			sink(Event{Kind: EventFailed, Err: err, At: time.Now()})
			return err
		}
		sink(Event{Kind: EventSent, Data: msg, At: time.Now()})
		outstanding += bytes.Count(msg, []byte{'\n'})

		line, ok, err := c.PollLine()
		if err != nil {
			sink(Event{Kind: EventFailed, Err: err, At: time.Now()})
			return err
		}
		if ok {
			outstanding = max(outstanding-1, 0)
			sink(Event{Kind: EventReceived, Data: line, At: time.Now()})
		}

		if err := sleep(ctx, c.interval); err != nil {
			return err
		}
	}
}

func (c *Controller) drainWithTimeout(ctx context.Context, want int, sink Sink) error {
	if want <= 0 {
		return nil
	}
	if c.drainTimeout <= 0 {
		return c.Drain(ctx, want, sink)
	}

	dctx, cancel := context.WithTimeout(ctx, c.drainTimeout)
	defer cancel()

	err := c.Drain(dctx, want, sink)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		c.log.Warn("Drain timed out", zap.Duration("timeout", c.drainTimeout))
		return nil
	}
	return err
}

// Drain polls until want more lines have been received. Lines that are
// already available are collected back to back; otherwise it waits one
// interval between polls.
func (c *Controller) Drain(ctx context.Context, want int, sink Sink) error {
	if sink == nil {
		sink = func(Event) {}
	}

	for want > 0 {
		line, ok, err := c.PollLine()
		if err != nil {
			sink(Event{Kind: EventFailed, Err: err, At: time.Now()})
			return err
		}
		if ok {
			want--
			sink(Event{Kind: EventReceived, Data: line, At: time.Now()})
			continue
		}
		if err := sleep(ctx, c.interval); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
