// Package controller drives the controller side of a duplex pipe exchange.
//
// After the worker has been spawned, Initialize drops the two ends the
// controller does not own and makes the inbound read end non-blocking. From
// then on Send writes whole messages to the worker and PollLine returns at
// most one complete inbound line per call without ever blocking. Run ties
// both into the paced steady-state loop.
//
// Every error is fatal. Once Send or PollLine has failed, the controller
// keeps returning that error and no longer touches its descriptors.
package controller

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LiboWorks/pipedemo/internal/channel"
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
	"github.com/LiboWorks/pipedemo/internal/metrics"
)

// Defaults for the loop pacing.
const (
	DefaultInterval     = 250 * time.Millisecond
	DefaultDrainTimeout = 2 * time.Second
)

// ErrNotInitialized is returned by Send and PollLine before Initialize.
var ErrNotInitialized = errors.New("controller not initialized")

// Controller owns the outbound write end and the inbound read end of a
// duplex channel.
type Controller struct {
	log     *zap.Logger
	metrics *metrics.Exchange
	duplex  *channel.Duplex
	out     *channel.Endpoint
	in      *channel.Endpoint
	asm     *LineAssembler

	interval     time.Duration
	drainTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	err         error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records exchange counters on m.
func WithMetrics(m *metrics.Exchange) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithInterval sets the delay between loop iterations. Values that are not
// positive are ignored so that Drain never busy-polls.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithDrainTimeout bounds how long Run waits for outstanding echoes once the
// message source is exhausted. Zero waits until ctx is done.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.drainTimeout = d
		}
	}
}

// New creates a controller for d. It does not touch any descriptor; call
// Initialize once the worker holds its ends.
func New(d *channel.Duplex, opts ...Option) *Controller {
	c := &Controller{
		log:          zap.NewNop(),
		duplex:       d,
		out:          d.Outbound.WriteEnd,
		in:           d.Inbound.ReadEnd,
		asm:          NewLineAssembler(),
		interval:     DefaultInterval,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("component", "controller"))
	return c
}

// Initialize closes the outbound read end and the inbound write end, which
// belong to the worker, then marks the inbound read end non-blocking.
//
// Holding on to the inbound write end would keep the inbound pipe open after
// the worker dies, and the controller would never see end-of-stream.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	for _, ep := range []*channel.Endpoint{c.duplex.Outbound.ReadEnd, c.duplex.Inbound.WriteEnd} {
		if err := ep.Close(); err != nil {
			return fmt.Errorf("close %s: %w", ep.Role(), err)
		}
	}

	if err := c.in.SetNonblock(true); err != nil {
		return pipeerr.New(pipeerr.ChannelReadFailed, "initialize", err)
	}

	c.initialized = true
	c.log.Debug("Controller initialized",
		zap.Int("write_fd", c.out.Fd()),
		zap.Int("read_fd", c.in.Fd()),
		zap.Strings("open", c.duplex.Open()))

	return nil
}

// Err returns the fatal error that stopped the controller, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	if !c.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	err = c.err
	c.mu.Unlock()

	c.metrics.Failed(err)
	c.log.Debug("Channel failed", zap.Error(err))
	return err
}

// Send writes all of msg to the worker, looping over short writes. It may
// block while the outbound pipe buffer is full. Any write error is a fatal
// ChannelWriteFailed.
func (c *Controller) Send(msg []byte) error {
	if err := c.usable(); err != nil {
		return err
	}

	for written := 0; written < len(msg); {
		n, err := c.out.WriteOnce(msg[written:])
		if err != nil {
			return c.fail(pipeerr.New(pipeerr.ChannelWriteFailed, "write", err))
		}
		written += n
	}

	c.metrics.Sent(len(msg))
	c.log.Debug("Sent message", zap.Int("bytes", len(msg)))
	return nil
}

// PollLine returns the next complete inbound line, terminator included, if
// one is available. It never blocks: ok is false with a nil error when the
// worker has not produced a full line yet.
//
// End-of-stream is reported as ChannelClosed and any other read failure as
// ChannelReadFailed; both are fatal.
func (c *Controller) PollLine() (line []byte, ok bool, err error) {
	if err := c.usable(); err != nil {
		return nil, false, err
	}

	line, ok, err = c.asm.Poll(c.in)
	if err != nil {
		kind := pipeerr.ChannelReadFailed
		if errors.Is(err, io.EOF) {
			kind = pipeerr.ChannelClosed
		}
		return nil, false, c.fail(pipeerr.New(kind, "read", err))
	}

	if !ok {
		c.metrics.PollEmpty()
		return nil, false, nil
	}

	c.metrics.Received(len(line))
	c.log.Debug("Received line", zap.Int("bytes", len(line)))
	return line, true, nil
}

// Close closes the controller's two ends. The worker sees end-of-stream on
// its standard input.
func (c *Controller) Close() error {
	return errors.Join(c.out.Close(), c.in.Close())
}
