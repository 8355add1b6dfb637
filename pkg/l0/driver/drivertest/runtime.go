// Package drivertest provides a Runtime to unit test driver hooks
// without running a task.
package drivertest

import (
	"context"
	"sync"
	"time"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
)

// Timer is an armed AfterFunc.
type Timer struct {
	After    time.Duration
	Value    interface{}
	Canceled bool
}

// Runtime records what hooks ask of their task.
type Runtime struct {
	ID comm.DriverID

	lock     sync.Mutex
	pushes   int
	posted   []driver.Message
	timers   []*Timer
	dropPost bool
}

// New creates a Runtime for driver id.
func New(id comm.DriverID) *Runtime {
	return &Runtime{ID: id}
}

// Context attaches the runtime to a background context.
func (r *Runtime) Context() context.Context {
	return driver.WithRuntime(context.Background(), r)
}

// Driver implements driver.Runtime.
func (r *Runtime) Driver() comm.DriverID {
	return r.ID
}

// PushStatus implements driver.Runtime.
func (r *Runtime) PushStatus() {
	r.lock.Lock()
	r.pushes++
	r.lock.Unlock()
}

// Post implements driver.Runtime.
func (r *Runtime) Post(ctx context.Context, msg driver.Message) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.posted = append(r.posted, msg)
	return nil
}

// TryPost implements driver.Runtime. It fails after DropPosts.
func (r *Runtime) TryPost(msg driver.Message) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.dropPost {
		return false
	}
	r.posted = append(r.posted, msg)
	return true
}

// DropPosts makes further TryPost calls fail as if the inbox was full.
func (r *Runtime) DropPosts() {
	r.lock.Lock()
	r.dropPost = true
	r.lock.Unlock()
}

// AfterFunc implements driver.Runtime. Timers never fire by themselves.
func (r *Runtime) AfterFunc(d time.Duration, value interface{}) func() {
	t := &Timer{After: d, Value: value}
	r.lock.Lock()
	r.timers = append(r.timers, t)
	r.lock.Unlock()
	return func() {
		r.lock.Lock()
		t.Canceled = true
		r.lock.Unlock()
	}
}

// Pushes returns and resets the number of PushStatus calls.
func (r *Runtime) Pushes() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	n := r.pushes
	r.pushes = 0
	return n
}

// Posted returns and clears the posted messages.
func (r *Runtime) Posted() []driver.Message {
	r.lock.Lock()
	defer r.lock.Unlock()
	msgs := r.posted
	r.posted = nil
	return msgs
}

// Timers returns the armed timers which are not canceled.
func (r *Runtime) Timers() []*Timer {
	r.lock.Lock()
	defer r.lock.Unlock()
	var armed []*Timer
	for _, t := range r.timers {
		if !t.Canceled {
			armed = append(armed, t)
		}
	}
	return armed
}

// Command builds a driver.Command for the runtime's driver.
func (r *Runtime) Command(counter comm.MsgCounter, payload comm.Payload) driver.Command {
	return driver.Command{Driver: r.ID, Counter: counter, Payload: payload}
}
