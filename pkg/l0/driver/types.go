package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/reliable"
)

// State is the lifecycle state of a Task.
type State int32

// Task states.
const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateShuttingDown
)

var stateNames = [...]string{"uninitialized", "starting", "running", "shutting-down"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Phase is a boot phase. Every task goes through all phases in order.
type Phase int

// Boot phases.
const (
	// PhaseInit prepares the device; nothing is routed yet.
	PhaseInit Phase = iota
	// PhaseRegister registers the task with the dispatcher before the hook
	// runs. The dispatcher is sealed once all tasks passed this phase.
	PhaseRegister
	// PhaseStart runs after the dispatcher is sealed, right before the
	// task goroutine starts.
	PhaseStart
)

// Phases lists all phases in the order they run.
var Phases = []Phase{PhaseInit, PhaseRegister, PhaseStart}

var phaseNames = [...]string{"init", "register", "start"}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Message is an item in a task inbox.
type Message interface {
	isMessage()
}

// Command is a command frame delivered to the driver.
type Command struct {
	Driver  comm.DriverID
	Counter comm.MsgCounter
	Repeat  comm.RepeatCounter
	Payload comm.Payload
}

// AckNackReceived is a reply to a confirmable send of the task.
type AckNackReceived struct {
	Counter comm.MsgCounter
	Success bool
	Reason  comm.NackReason
}

// Event carries a driver specific event (timer, sensor ready, ...).
type Event struct {
	Value interface{}
}

type retryTimeout struct {
	key reliable.Key
}

type statusTick struct{}

func (Command) isMessage()         {}
func (AckNackReceived) isMessage() {}
func (Event) isMessage()           {}
func (retryTimeout) isMessage()    {}
func (statusTick) isMessage()      {}

// Hooks is the driver specific logic run by a Task.
// All hooks run on the task goroutine, one at a time.
type Hooks interface {
	// Startup is called once per boot phase.
	Startup(ctx context.Context, phase Phase) error
	// ProcessCommand handles a command. A nil error is replied with Ack,
	// a comm.NackReason with that Nack, anything else with
	// Nack(DeviceFault).
	ProcessCommand(ctx context.Context, cmd Command) error
	// ReportStatus returns the current status snapshot. first is true
	// only for the report right after the task starts. A nil payload
	// skips the report.
	ReportStatus(first bool) comm.Payload
}

// EventHandler is optionally implemented by Hooks to receive Events.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ResultHandler is optionally implemented by Hooks to learn the outcome
// of its status reports.
type ResultHandler interface {
	HandleResult(ctx context.Context, r reliable.Result)
}

// ShutdownHandler is optionally implemented by Hooks to release the device
// when the task stops.
type ShutdownHandler interface {
	Shutdown(ctx context.Context)
}

// StatusObserver receives every status snapshot a task reports.
// It's called on the task goroutine and must not block.
type StatusObserver interface {
	ObserveStatus(driver comm.DriverID, status comm.Payload)
}

// ObserveStatusFunc is func type of StatusObserver.
type ObserveStatusFunc func(comm.DriverID, comm.Payload)

// ObserveStatus implements StatusObserver.
func (f ObserveStatusFunc) ObserveStatus(driver comm.DriverID, status comm.Payload) {
	f(driver, status)
}

// Runtime is the view of its Task a hook gets from the context.
type Runtime interface {
	// Driver is the id of the task.
	Driver() comm.DriverID
	// PushStatus asks for a status report once the current message is
	// handled. Only call it from a hook.
	PushStatus()
	// Post enqueues msg, retrying with backoff while the inbox is full.
	// Called by a hook handling a message of the same task, it returns
	// ErrInboxFull at once instead.
	Post(ctx context.Context, msg Message) error
	// TryPost enqueues msg without blocking and drops it if the inbox
	// is full.
	TryPost(msg Message) bool
	// AfterFunc posts Event{Value: value} into the inbox after d.
	AfterFunc(d time.Duration, value interface{}) (cancel func())
}

type runtimeKey struct{}

// RuntimeFrom gets the Runtime from a context passed to a hook.
func RuntimeFrom(ctx context.Context) Runtime {
	return ctx.Value(runtimeKey{}).(Runtime)
}

// WithRuntime attaches rt to ctx.
func WithRuntime(ctx context.Context, rt Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}
