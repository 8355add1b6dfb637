// Package dispatch routes received frames to the inbox of their driver.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/metrics"
)

// Errors returned by Route.
var (
	ErrNotReady     = errors.New("dispatcher not sealed")
	ErrUnregistered = errors.New("driver not registered")
)

// Inbox accepts frames routed to one driver.
type Inbox interface {
	DeliverFrame(context.Context, *comm.Frame) error
}

// Dispatcher maps driver ids to inboxes.
// The registry is written before Seal and read-only afterwards.
type Dispatcher struct {
	Metrics *metrics.Metrics

	inboxes  map[comm.DriverID]Inbox
	lock     sync.Mutex
	sealed   bool
	sealedCh chan struct{}
}

// New creates a Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		inboxes:  make(map[comm.DriverID]Inbox),
		sealedCh: make(chan struct{}),
	}
}

// Register adds the inbox of a driver.
// It panics on a duplicate id or when called after Seal.
func (d *Dispatcher) Register(id comm.DriverID, inbox Inbox) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.sealed {
		panic(fmt.Sprintf("dispatch: register %s after seal", id))
	}
	if _, exists := d.inboxes[id]; exists {
		panic(fmt.Sprintf("dispatch: %s registered twice", id))
	}
	d.inboxes[id] = inbox
	glog.V(2).Infof("dispatch: registered %s", id)
}

// Seal ends registration. Frames are routed only after Seal.
// Calling it more than once is harmless.
func (d *Dispatcher) Seal() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.sealed {
		d.sealed = true
		close(d.sealedCh)
	}
}

// Sealed returns a chan closed when the dispatcher is sealed.
func (d *Dispatcher) Sealed() <-chan struct{} {
	return d.sealedCh
}

// Registered lists the registered driver ids. Only valid after Seal.
func (d *Dispatcher) Registered() []comm.DriverID {
	select {
	case <-d.sealedCh:
	default:
		return nil
	}
	ids := make([]comm.DriverID, 0, len(d.inboxes))
	for id := range d.inboxes {
		ids = append(ids, id)
	}
	return ids
}

// Route delivers frame to the inbox of frame.Driver.
// Frames that can't be routed are dropped without reply.
func (d *Dispatcher) Route(ctx context.Context, frame *comm.Frame) error {
	select {
	case <-d.sealedCh:
	default:
		glog.Warningf("dispatch: drop %s before startup completed", frame)
		d.Metrics.FrameDropped(metrics.DropNotReady)
		return ErrNotReady
	}
	inbox := d.inboxes[frame.Driver]
	if inbox == nil {
		glog.Warningf("dispatch: drop %s: %v", frame, ErrUnregistered)
		d.Metrics.FrameDropped(metrics.DropUnregistered)
		return ErrUnregistered
	}
	return inbox.DeliverFrame(ctx, frame)
}

// HandleFrame implements comm.FrameHandler.
func (d *Dispatcher) HandleFrame(ctx context.Context, frame *comm.Frame) {
	if err := d.Route(ctx, frame); err != nil && glog.V(2) {
		glog.Infof("dispatch: %s: %v", frame, err)
	}
}
