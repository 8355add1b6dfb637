// Package driver runs each peripheral driver as an actor: one goroutine
// that handles the messages of its bounded inbox one at a time.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/reliable"
	"github.com/robotalks/grinder/pkg/metrics"
)

// Errors.
var (
	ErrTaskStopped = errors.New("driver task stopped")
	ErrNotStarting = errors.New("driver task not booted")
	ErrInboxFull   = errors.New("inbox full")
)

// Defaults.
const (
	// DefaultInboxSize is the inbox capacity when Config.InboxSize is unset.
	DefaultInboxSize = 16
	// DefaultDeliverTimeout bounds how long routing waits on a full inbox.
	DefaultDeliverTimeout = 100 * time.Millisecond
)

// Config tunes a Task.
type Config struct {
	InboxSize int
	// DeliverTimeout caps the wait of DeliverFrame on a full inbox. The
	// frame is dropped after it, the peer resends.
	DeliverTimeout time.Duration
	// StatusInterval enables periodic status reports when positive.
	StatusInterval time.Duration
	AckTimeout     time.Duration
	MaxRetries     int
	Observer       StatusObserver
	Metrics        *metrics.Metrics
}

// DefaultConfig returns the default task configuration.
func DefaultConfig() Config {
	return Config{
		InboxSize:      DefaultInboxSize,
		DeliverTimeout: DefaultDeliverTimeout,
		AckTimeout:     reliable.DefaultTimeout,
		MaxRetries:     reliable.DefaultMaxRetries,
	}
}

// Task is the runtime of one driver.
type Task struct {
	ID    comm.DriverID
	Hooks Hooks

	config  Config
	sender  comm.FrameSender
	tracker *reliable.Tracker
	inbox   chan Message
	state   atomic.Int32
	replies replyCache

	statusRequested bool
}

// NewTask creates a Task replying through sender. counters is shared by
// all tasks of the process so status reports never collide.
func NewTask(id comm.DriverID, hooks Hooks, sender comm.FrameSender, counters *comm.CounterSource, conf Config) *Task {
	if conf.InboxSize <= 0 {
		conf.InboxSize = DefaultInboxSize
	}
	if conf.DeliverTimeout <= 0 {
		conf.DeliverTimeout = DefaultDeliverTimeout
	}
	t := &Task{
		ID:     id,
		Hooks:  hooks,
		config: conf,
		sender: sender,
		inbox:  make(chan Message, conf.InboxSize),
	}
	t.tracker = reliable.NewTracker(sender, counters, reliable.TimersFunc(t.armRetry))
	t.tracker.MaxRetries = conf.MaxRetries
	t.tracker.Timeout = conf.AckTimeout
	t.tracker.Metrics = conf.Metrics
	return t
}

// Name implements framework.Named.
func (t *Task) Name() string {
	return "driver." + t.ID.String()
}

// State returns the lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// Driver implements Runtime.
func (t *Task) Driver() comm.DriverID {
	return t.ID
}

// PushStatus implements Runtime.
func (t *Task) PushStatus() {
	t.statusRequested = true
}

// Post implements Runtime.
func (t *Task) Post(ctx context.Context, msg Message) error {
	return t.post(ctx, msg, 0)
}

// post retries a full inbox with backoff, for at most maxElapsed when set.
func (t *Task) post(ctx context.Context, msg Message, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if t.State() == StateShuttingDown {
			return struct{}{}, backoff.Permanent(ErrTaskStopped)
		}
		select {
		case t.inbox <- msg:
			return struct{}{}, nil
		default:
			return struct{}{}, ErrInboxFull
		}
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(maxElapsed))
	return err
}

// TryPost implements Runtime.
func (t *Task) TryPost(msg Message) bool {
	if t.State() == StateShuttingDown {
		return false
	}
	select {
	case t.inbox <- msg:
		return true
	default:
		glog.Warningf("%s: inbox full, drop %T", t.ID, msg)
		t.config.Metrics.InboxDropped(t.ID.String())
		return false
	}
}

// AfterFunc implements Runtime.
func (t *Task) AfterFunc(d time.Duration, value interface{}) func() {
	timer := time.AfterFunc(d, func() {
		t.Post(context.Background(), Event{Value: value})
	})
	return func() { timer.Stop() }
}

// taskRuntime is the Runtime of hooks running on the task goroutine. The
// inbox can't drain while a hook waits on it, so Post fails fast there.
type taskRuntime struct {
	*Task
}

// Post implements Runtime.
func (r taskRuntime) Post(ctx context.Context, msg Message) error {
	select {
	case r.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

func (t *Task) armRetry(key reliable.Key, d time.Duration) func() {
	timer := time.AfterFunc(d, func() {
		t.Post(context.Background(), retryTimeout{key: key})
	})
	return func() { timer.Stop() }
}

// DeliverFrame implements dispatch.Inbox. Ack and Nack settle the task's
// own confirmable sends, all other payloads are commands. A task whose
// inbox stays full drops the frame after DeliverTimeout with ErrInboxFull,
// so routing to the other drivers goes on.
func (t *Task) DeliverFrame(ctx context.Context, frame *comm.Frame) error {
	var msg Message
	switch p := frame.Payload.(type) {
	case *comm.Ack:
		msg = AckNackReceived{Counter: frame.Counter, Success: true}
	case *comm.Nack:
		msg = AckNackReceived{Counter: frame.Counter, Reason: p.Reason}
	default:
		msg = Command{
			Driver:  frame.Driver,
			Counter: frame.Counter,
			Repeat:  frame.Repeat,
			Payload: frame.Payload,
		}
	}
	switch t.State() {
	case StateStarting, StateRunning:
		if err := t.post(ctx, msg, t.config.DeliverTimeout); err != nil {
			if errors.Is(err, ErrInboxFull) {
				glog.Warningf("%s: inbox full, drop %s", t.ID, frame)
				t.config.Metrics.InboxDropped(t.ID.String())
			}
			return err
		}
		return nil
	case StateUninitialized:
		return ErrNotStarting
	default:
		return ErrTaskStopped
	}
}

// Run implements framework.Runnable. The task must have been booted.
func (t *Task) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return fmt.Errorf("%s: %w", t.ID, ErrNotStarting)
	}
	ctx = WithRuntime(ctx, taskRuntime{t})
	defer t.shutdown(ctx)

	t.statusRequested = false
	t.reportStatus(ctx, true)

	var tick <-chan time.Time
	if t.config.StatusInterval > 0 {
		ticker := time.NewTicker(t.config.StatusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-t.inbox:
			t.handle(ctx, msg)
		case <-tick:
			t.handle(ctx, statusTick{})
		}
		if t.statusRequested {
			t.statusRequested = false
			t.reportStatus(ctx, false)
		}
	}
}

func (t *Task) shutdown(ctx context.Context) {
	t.setState(StateShuttingDown)
	t.tracker.Abandon(nil)
	if h, ok := t.Hooks.(ShutdownHandler); ok {
		t.safely("shutdown", func() { h.Shutdown(context.WithoutCancel(ctx)) })
	}
	glog.Infof("%s: stopped", t.ID)
}

func (t *Task) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case Command:
		t.handleCommand(ctx, m)
	case AckNackReceived:
		if !t.tracker.Resolve(m.Counter, m.Success, m.Reason) {
			glog.V(2).Infof("%s: stale reply #%d", t.ID, m.Counter)
		}
	case Event:
		if h, ok := t.Hooks.(EventHandler); ok {
			t.safely("event", func() { h.HandleEvent(ctx, m) })
		} else {
			glog.Warningf("%s: unhandled event %v", t.ID, m.Value)
		}
	case retryTimeout:
		t.tracker.Expire(m.key)
	case statusTick:
		t.reportStatus(ctx, false)
	}
}

func (t *Task) handleCommand(ctx context.Context, cmd Command) {
	if cmd.Repeat > 0 {
		if reply := t.replies.lookup(cmd.Counter); reply != nil {
			glog.V(2).Infof("%s: duplicate #%d repeat=%d", t.ID, cmd.Counter, cmd.Repeat)
			t.reply(cmd, reply)
			return
		}
	}

	var err error
	if !t.safely("command", func() { err = t.Hooks.ProcessCommand(ctx, cmd) }) {
		err = comm.NackDeviceFault
	}

	var reply comm.Payload
	var reason comm.NackReason
	switch {
	case err == nil:
		reply = &comm.Ack{}
		t.config.Metrics.CommandProcessed(t.ID.String(), "ack")
	case errors.As(err, &reason):
		reply = &comm.Nack{Reason: reason}
		t.config.Metrics.CommandProcessed(t.ID.String(), reason.Error())
	default:
		glog.Errorf("%s: command #%d failed: %v", t.ID, cmd.Counter, err)
		reply = &comm.Nack{Reason: comm.NackDeviceFault}
		t.config.Metrics.CommandProcessed(t.ID.String(), comm.NackDeviceFault.Error())
	}
	t.replies.add(cmd.Counter, reply)
	t.reply(cmd, reply)
}

func (t *Task) reply(cmd Command, payload comm.Payload) {
	frame := &comm.Frame{
		Driver:  t.ID,
		Counter: cmd.Counter,
		Repeat:  cmd.Repeat,
		Payload: payload,
	}
	if err := t.sender.SendFrame(frame); err != nil {
		// the peer resends the command and gets the cached reply.
		glog.Warningf("%s: reply #%d: %v", t.ID, cmd.Counter, err)
	}
}

func (t *Task) reportStatus(ctx context.Context, first bool) {
	var status comm.Payload
	if !t.safely("status", func() { status = t.Hooks.ReportStatus(first) }) || status == nil {
		return
	}
	if obs := t.config.Observer; obs != nil {
		obs.ObserveStatus(t.ID, status)
	}
	t.tracker.SendConfirmable(t.ID, status, func(r reliable.Result) {
		if h, ok := t.Hooks.(ResultHandler); ok {
			t.safely("result", func() { h.HandleResult(ctx, r) })
		} else if r.Err != nil {
			glog.Warningf("%s: status #%d: %v", t.ID, r.Counter, r.Err)
		}
	})
}

// safely runs fn and recovers a panic. It returns false if fn panicked.
func (t *Task) safely(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("%s: %s panic: %v", t.ID, what, r)
			ok = false
		}
	}()
	fn()
	return true
}

func (t *Task) startup(ctx context.Context, phase Phase) (err error) {
	if !t.safely(phase.String(), func() { err = t.Hooks.Startup(WithRuntime(ctx, t), phase) }) {
		err = errors.New("startup panic")
	}
	return
}
