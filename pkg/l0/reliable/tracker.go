// Package reliable tracks confirmable sends and retries them until they are
// acknowledged, rejected, or out of retries.
//
// A Tracker is owned by a single goroutine (a driver task or the host
// controller). Deadlines are armed through Timers, whose implementation must
// deliver the expiry back to the owner (usually by posting into its inbox)
// so Expire runs on the owning goroutine.
package reliable

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/metrics"
)

// Defaults.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 250 * time.Millisecond
)

// MaxRetriesLimit is the most retries the wire repeat counter can number.
const MaxRetriesLimit = math.MaxUint8

// ErrRetriesExhausted is reported when no reply arrived after all retries.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Outcome labels for metrics.
const (
	OutcomeAcked     = "acked"
	OutcomeNacked    = "nacked"
	OutcomeExhausted = "exhausted"
	OutcomeAbandoned = "abandoned"
	OutcomeInvalid   = "invalid"
)

// Key identifies one armed deadline. Repeat distinguishes the deadline of
// each transmission so a late expiry of an earlier attempt is ignored.
type Key struct {
	Counter comm.MsgCounter
	Repeat  comm.RepeatCounter
}

// Result is the terminal outcome of a confirmable send.
// Err is nil on Ack, a comm.NackReason on Nack, ErrRetriesExhausted, the
// encoding error of a payload that can never be sent, or the error passed
// to Abandon.
type Result struct {
	Driver  comm.DriverID
	Counter comm.MsgCounter
	Payload comm.Payload
	Err     error
}

// Timers arms deadlines on behalf of a Tracker.
type Timers interface {
	// Arm schedules a call to Expire(key) on the owner after d.
	// The returned func cancels the deadline if it has not fired yet.
	Arm(key Key, d time.Duration) (cancel func())
}

// TimersFunc is func type of Timers.
type TimersFunc func(Key, time.Duration) func()

// Arm implements Timers.
func (f TimersFunc) Arm(key Key, d time.Duration) func() {
	return f(key, d)
}

type pendingOp struct {
	driver  comm.DriverID
	counter comm.MsgCounter
	repeat  comm.RepeatCounter
	payload comm.Payload
	cancel  func()
	done    func(Result)
}

// Tracker keeps the pending operations of one owner.
// It's not safe for concurrent use.
type Tracker struct {
	Sender     comm.FrameSender
	Counters   *comm.CounterSource
	Timers     Timers
	MaxRetries int
	Timeout    time.Duration
	Metrics    *metrics.Metrics

	pending map[comm.MsgCounter]*pendingOp
}

// NewTracker creates a Tracker with default retry policy.
func NewTracker(sender comm.FrameSender, counters *comm.CounterSource, timers Timers) *Tracker {
	return &Tracker{
		Sender:     sender,
		Counters:   counters,
		Timers:     timers,
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
	}
}

// Pending returns the number of outstanding operations.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

// SendConfirmable transmits payload to driver under a fresh counter and
// tracks it until done is called with the terminal Result. done is called
// exactly once, on the owner goroutine. A payload that can't be encoded is
// never sent, done receives the encoding error before this returns.
func (t *Tracker) SendConfirmable(driver comm.DriverID, payload comm.Payload, done func(Result)) comm.MsgCounter {
	if t.pending == nil {
		t.pending = make(map[comm.MsgCounter]*pendingOp)
	}
	op := &pendingOp{
		driver:  driver,
		counter: t.Counters.Next(),
		payload: payload,
		done:    done,
	}
	// skip ids still in flight after the counter space wrapped.
	for t.pending[op.counter] != nil {
		op.counter = t.Counters.Next()
	}
	frame := &comm.Frame{Driver: driver, Counter: op.counter, Payload: payload}
	if _, err := frame.Bytes(); err != nil {
		glog.Errorf("%s #%d: %v", driver, op.counter, err)
		t.finish(op, &Result{Err: err}, OutcomeInvalid)
		return op.counter
	}
	t.pending[op.counter] = op
	t.transmit(op)
	return op.counter
}

// Expire handles a fired deadline. Stale keys are ignored.
func (t *Tracker) Expire(key Key) {
	op := t.pending[key.Counter]
	if op == nil || op.repeat != key.Repeat {
		return
	}
	if int(op.repeat) >= t.maxRetries() {
		delete(t.pending, op.counter)
		glog.Warningf("%s #%d: no reply after %d attempts", op.driver, op.counter, int(op.repeat)+1)
		t.finish(op, &Result{Err: ErrRetriesExhausted}, OutcomeExhausted)
		return
	}
	op.repeat++
	t.Metrics.Retransmitted(op.driver.String())
	glog.V(2).Infof("%s #%d: resend repeat=%d", op.driver, op.counter, op.repeat)
	t.transmit(op)
}

// Resolve settles the pending operation with counter. reason is only
// meaningful when success is false. It returns false if nothing was pending
// under counter, in which case nothing happens.
func (t *Tracker) Resolve(counter comm.MsgCounter, success bool, reason comm.NackReason) bool {
	op := t.pending[counter]
	if op == nil {
		return false
	}
	delete(t.pending, counter)
	if op.cancel != nil {
		op.cancel()
	}
	if success {
		t.finish(op, &Result{}, OutcomeAcked)
	} else {
		t.finish(op, &Result{Err: reason}, OutcomeNacked)
	}
	return true
}

// Abandon drops all pending operations when the owner shuts down.
// A non-nil err is reported to each of them, nil drops them silently.
func (t *Tracker) Abandon(err error) {
	for counter, op := range t.pending {
		if op.cancel != nil {
			op.cancel()
		}
		delete(t.pending, counter)
		if err != nil {
			t.finish(op, &Result{Err: err}, OutcomeAbandoned)
		}
	}
}

func (t *Tracker) transmit(op *pendingOp) {
	frame := &comm.Frame{
		Driver:  op.driver,
		Counter: op.counter,
		Repeat:  op.repeat,
		Payload: op.payload,
	}
	if err := t.Sender.SendFrame(frame); err != nil {
		// treated as a lost frame, the deadline resends it.
		glog.Warningf("%s #%d: send error: %v", op.driver, op.counter, err)
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	op.cancel = t.Timers.Arm(Key{Counter: op.counter, Repeat: op.repeat}, timeout)
}

// maxRetries keeps the count within what RepeatCounter can number, so the
// repeat of a pending operation never wraps.
func (t *Tracker) maxRetries() int {
	switch {
	case t.MaxRetries < 0:
		return 0
	case t.MaxRetries > MaxRetriesLimit:
		return MaxRetriesLimit
	}
	return t.MaxRetries
}

// ValidateMaxRetries reports a retry count the wire can't carry.
func ValidateMaxRetries(n int) error {
	if n < 0 || n > MaxRetriesLimit {
		return fmt.Errorf("max retries %d out of range 0..%d", n, MaxRetriesLimit)
	}
	return nil
}

func (t *Tracker) finish(op *pendingOp, r *Result, outcome string) {
	t.Metrics.ConfirmableDone(op.driver.String(), outcome)
	if op.done == nil {
		return
	}
	r.Driver, r.Counter, r.Payload = op.driver, op.counter, op.payload
	op.done(*r)
}
