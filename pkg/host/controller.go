// Package host is the host controller side of the link: it issues
// commands to the appliance drivers and receives their status reports.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/reliable"
	"github.com/robotalks/grinder/pkg/metrics"
)

// ErrClosed is the result of commands issued after the controller stopped.
var ErrClosed = errors.New("controller closed")

// Result is the outcome of a command using Do.
// Err is nil on Ack, a comm.NackReason on Nack, reliable.ErrRetriesExhausted
// when the appliance never answered, or ErrClosed.
type Result struct {
	Counter comm.MsgCounter
	Err     error
}

// Command represents a command waiting for its reply.
type Command struct {
	Driver  comm.DriverID
	Payload comm.Payload

	resultCh chan Result
}

// ResultChan returns the chan to retrieve the result.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// Wait waits for the result or ctx.
func (c *Command) Wait(ctx context.Context) Result {
	select {
	case r := <-c.resultCh:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Status is a status report received from a driver.
type Status struct {
	Driver  comm.DriverID
	Counter comm.MsgCounter
	Payload comm.Payload
}

// Config tunes a Controller.
type Config struct {
	AckTimeout time.Duration
	MaxRetries int
	Metrics    *metrics.Metrics
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		AckTimeout: reliable.DefaultTimeout,
		MaxRetries: reliable.DefaultMaxRetries,
	}
}

const seenStatusSize = 32

type statusKey struct {
	driver  comm.DriverID
	counter comm.MsgCounter
}

// Controller sends commands over a link. It runs as a single actor
// goroutine owning the pending commands.
type Controller struct {
	sender   comm.FrameSender
	tracker  *reliable.Tracker
	inbox    chan interface{}
	statusCh chan Status
	doneCh   chan struct{}
	lock     sync.Mutex
	closed   bool

	seen     [seenStatusSize]statusKey
	seenNext int
}

type frameReceived struct {
	frame *comm.Frame
}

type expired struct {
	key reliable.Key
}

// NewController creates a Controller sending through sender.
func NewController(sender comm.FrameSender, conf Config) *Controller {
	c := &Controller{
		sender:   sender,
		inbox:    make(chan interface{}, 16),
		statusCh: make(chan Status, 16),
		doneCh:   make(chan struct{}),
	}
	c.tracker = reliable.NewTracker(sender, comm.NewCounterSource(1), reliable.TimersFunc(c.arm))
	c.tracker.MaxRetries = conf.MaxRetries
	c.tracker.Timeout = conf.AckTimeout
	c.tracker.Metrics = conf.Metrics
	return c
}

// StatusChan retrieves the status reporting chan.
func (c *Controller) StatusChan() <-chan Status {
	return c.statusCh
}

// Do sends a command and returns a Command for the result.
func (c *Controller) Do(driver comm.DriverID, payload comm.Payload) *Command {
	cmd := &Command{Driver: driver, Payload: payload, resultCh: make(chan Result, 1)}
	if !c.post(cmd) {
		cmd.resultCh <- Result{Err: ErrClosed}
	}
	return cmd
}

// HandleFrame implements comm.FrameHandler.
func (c *Controller) HandleFrame(ctx context.Context, frame *comm.Frame) {
	c.post(frameReceived{frame: frame})
}

func (c *Controller) post(msg interface{}) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.inbox <- msg:
		return true
	case <-c.doneCh:
		return false
	}
}

func (c *Controller) arm(key reliable.Key, d time.Duration) func() {
	timer := time.AfterFunc(d, func() { c.post(expired{key: key}) })
	return func() { timer.Stop() }
}

// Run implements framework.Runnable.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		close(c.doneCh)
		c.lock.Lock()
		c.closed = true
		c.lock.Unlock()
		c.tracker.Abandon(ErrClosed)
		c.drain()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

// drain fails the commands queued but never sent.
func (c *Controller) drain() {
	for {
		select {
		case msg := <-c.inbox:
			if cmd, ok := msg.(*Command); ok {
				cmd.resultCh <- Result{Err: ErrClosed}
			}
		default:
			return
		}
	}
}

func (c *Controller) handle(msg interface{}) {
	switch m := msg.(type) {
	case *Command:
		c.tracker.SendConfirmable(m.Driver, m.Payload, func(r reliable.Result) {
			m.resultCh <- Result{Counter: r.Counter, Err: r.Err}
		})
	case expired:
		c.tracker.Expire(m.key)
	case frameReceived:
		c.handleFrame(m.frame)
	}
}

func (c *Controller) handleFrame(f *comm.Frame) {
	switch p := f.Payload.(type) {
	case *comm.Ack:
		if !c.tracker.Resolve(f.Counter, true, 0) {
			glog.V(2).Infof("stale %s", f)
		}
		return
	case *comm.Nack:
		if !c.tracker.Resolve(f.Counter, false, p.Reason) {
			glog.V(2).Infof("stale %s", f)
		}
		return
	}
	if f.Payload.Kind() != comm.KindStatus {
		glog.Warningf("unexpected %s from appliance", f)
		c.reply(f, &comm.Nack{Reason: comm.NackUnknownDriverCommand})
		return
	}
	c.reply(f, &comm.Ack{})
	if f.Repeat == 0 && comm.InitialStatus(f.Payload) {
		// the driver restarted, its counters are reused from here.
		c.forget(f.Driver)
	}
	key := statusKey{driver: f.Driver, counter: f.Counter}
	for _, k := range c.seen {
		if k == key {
			return
		}
	}
	c.seen[c.seenNext] = key
	c.seenNext = (c.seenNext + 1) % seenStatusSize
	select {
	case c.statusCh <- Status{Driver: f.Driver, Counter: f.Counter, Payload: f.Payload}:
	default:
		glog.Warningf("status chan full, drop %s", f)
	}
}

func (c *Controller) forget(driver comm.DriverID) {
	for n, k := range c.seen {
		if k.driver == driver {
			c.seen[n] = statusKey{}
		}
	}
}

func (c *Controller) reply(f *comm.Frame, payload comm.Payload) {
	if err := c.sender.SendFrame(f.Reply(payload)); err != nil {
		glog.Warningf("reply %s: %v", f, err)
	}
}
