// Package motor implements the driver bridging to the motor controller.
package motor

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
)

// Default speed range.
const (
	DefaultMinRPM = 300
	DefaultMaxRPM = 3000
)

// Port controls the motor.
type Port interface {
	Run(rpm uint32, reverse bool) error
	Stop() error
}

type stopEvent struct {
	run uint64
}

// Driver implements driver.Hooks.
type Driver struct {
	Port   Port
	MinRPM uint32
	MaxRPM uint32

	rpm     uint32
	reverse bool
	running bool
	fault   string

	run         uint64
	cancelTimer func()
}

// New creates the motor driver.
func New(port Port) *Driver {
	return &Driver{Port: port, MinRPM: DefaultMinRPM, MaxRPM: DefaultMaxRPM}
}

// Startup implements driver.Hooks.
func (d *Driver) Startup(ctx context.Context, phase driver.Phase) error {
	if phase != driver.PhaseInit {
		return nil
	}
	if d.Port == nil {
		return errors.New("motor: no port")
	}
	// the controller may still spin from before a reset.
	return d.Port.Stop()
}

// ProcessCommand implements driver.Hooks.
func (d *Driver) ProcessCommand(ctx context.Context, cmd driver.Command) error {
	rt := driver.RuntimeFrom(ctx)
	switch p := cmd.Payload.(type) {
	case *comm.MotorRun:
		if p.RPM < d.MinRPM || p.RPM > d.MaxRPM {
			return comm.NackWrongParameter
		}
		if d.running && p.Reverse != d.reverse {
			return comm.NackBusy
		}
		if err := d.Port.Run(p.RPM, p.Reverse); err != nil {
			return d.portFault(rt, err)
		}
		d.cancel()
		d.run++
		d.rpm, d.reverse, d.running, d.fault = p.RPM, p.Reverse, true, ""
		if p.DurationMs > 0 {
			d.cancelTimer = rt.AfterFunc(time.Duration(p.DurationMs)*time.Millisecond, stopEvent{run: d.run})
		}
		rt.PushStatus()
		return nil
	case *comm.MotorStop:
		if err := d.stop(); err != nil {
			return d.portFault(rt, err)
		}
		rt.PushStatus()
		return nil
	default:
		return comm.NackUnknownDriverCommand
	}
}

func (d *Driver) portFault(rt driver.Runtime, err error) error {
	glog.Errorf("motor: %v", err)
	d.fault = err.Error()
	rt.PushStatus()
	return comm.NackDeviceFault
}

func (d *Driver) cancel() {
	if d.cancelTimer != nil {
		d.cancelTimer()
		d.cancelTimer = nil
	}
}

func (d *Driver) stop() error {
	d.cancel()
	if err := d.Port.Stop(); err != nil {
		return err
	}
	d.running, d.rpm = false, 0
	return nil
}

// HandleEvent implements driver.EventHandler.
func (d *Driver) HandleEvent(ctx context.Context, ev driver.Event) {
	e, ok := ev.Value.(stopEvent)
	if !ok || e.run != d.run || !d.running {
		return
	}
	d.cancelTimer = nil
	rt := driver.RuntimeFrom(ctx)
	if err := d.stop(); err != nil {
		d.portFault(rt, err)
		return
	}
	glog.Info("motor: run time elapsed")
	rt.PushStatus()
}

// ReportStatus implements driver.Hooks.
func (d *Driver) ReportStatus(first bool) comm.Payload {
	return &comm.MotorStatus{
		Initial: first,
		RPM:     d.rpm,
		Reverse: d.reverse,
		Running: d.running,
		Fault:   d.fault,
	}
}

// Shutdown implements driver.ShutdownHandler.
func (d *Driver) Shutdown(ctx context.Context) {
	if d.running {
		if err := d.stop(); err != nil {
			glog.Errorf("motor: stop on shutdown: %v", err)
		}
	}
}
