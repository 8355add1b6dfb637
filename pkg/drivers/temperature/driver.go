// Package temperature implements the temperature sensor driver.
package temperature

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
)

// Limits of TemperatureConfig.
const (
	MinIntervalMs  = 100
	MaxIntervalMs  = 60000
	MinThresholdDC = 1
	MaxThresholdDC = 500

	DefaultIntervalMs  = 1000
	DefaultThresholdDC = 5
)

// Sensor reads the temperature in tenths of a degree Celsius.
type Sensor interface {
	Read() (int32, error)
}

// SampleEvent is posted by the sampling timer.
type SampleEvent struct{}

// Driver implements driver.Hooks.
type Driver struct {
	Sensor Sensor

	intervalMs  uint32
	thresholdDC uint32
	current     int32
	reported    int32
	sensorOK    bool
	reportedOK  bool

	rt    driver.Runtime
	timer *time.Timer
}

// New creates the temperature driver.
func New(sensor Sensor) *Driver {
	return &Driver{
		Sensor:      sensor,
		intervalMs:  DefaultIntervalMs,
		thresholdDC: DefaultThresholdDC,
	}
}

// Startup implements driver.Hooks.
func (d *Driver) Startup(ctx context.Context, phase driver.Phase) error {
	switch phase {
	case driver.PhaseInit:
		if d.Sensor == nil {
			return errors.New("temperature: no sensor")
		}
		d.sample()
	case driver.PhaseStart:
		d.rt = driver.RuntimeFrom(ctx)
		d.arm()
	}
	return nil
}

// arm schedules the next sample. The timer fires outside the task, so it
// only tries to post and loses the tick when the inbox is full.
func (d *Driver) arm() {
	if d.timer != nil {
		d.timer.Stop()
	}
	rt := d.rt
	d.timer = time.AfterFunc(time.Duration(d.intervalMs)*time.Millisecond, func() {
		rt.TryPost(driver.Event{Value: SampleEvent{}})
	})
}

func (d *Driver) sample() {
	v, err := d.Sensor.Read()
	if err != nil {
		if d.sensorOK {
			glog.Warningf("temperature: sensor read: %v", err)
		}
		d.sensorOK = false
		return
	}
	d.current, d.sensorOK = v, true
}

func (d *Driver) changed() bool {
	if d.sensorOK != d.reportedOK {
		return true
	}
	delta := int64(d.current) - int64(d.reported)
	if delta < 0 {
		delta = -delta
	}
	return delta >= int64(d.thresholdDC)
}

// HandleEvent implements driver.EventHandler.
func (d *Driver) HandleEvent(ctx context.Context, ev driver.Event) {
	if _, ok := ev.Value.(SampleEvent); !ok {
		return
	}
	d.sample()
	if d.changed() {
		driver.RuntimeFrom(ctx).PushStatus()
	}
	if d.rt != nil {
		d.arm()
	}
}

// ProcessCommand implements driver.Hooks.
func (d *Driver) ProcessCommand(ctx context.Context, cmd driver.Command) error {
	switch p := cmd.Payload.(type) {
	case *comm.TemperatureConfig:
		if p.IntervalMs < MinIntervalMs || p.IntervalMs > MaxIntervalMs ||
			p.ThresholdDeciC < MinThresholdDC || p.ThresholdDeciC > MaxThresholdDC {
			return comm.NackWrongParameter
		}
		d.intervalMs, d.thresholdDC = p.IntervalMs, p.ThresholdDeciC
		if d.rt != nil {
			d.arm()
		}
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	case *comm.TemperatureQuery:
		d.sample()
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	default:
		return comm.NackUnknownDriverCommand
	}
}

// ReportStatus implements driver.Hooks.
func (d *Driver) ReportStatus(first bool) comm.Payload {
	d.reported, d.reportedOK = d.current, d.sensorOK
	return &comm.TemperatureStatus{
		Initial:     first,
		DeciCelsius: d.current,
		IntervalMs:  d.intervalMs,
		SensorOK:    d.sensorOK,
	}
}

// Shutdown implements driver.ShutdownHandler.
func (d *Driver) Shutdown(ctx context.Context) {
	if d.timer != nil {
		d.timer.Stop()
	}
}

// SimSensor is a Sensor for benches without hardware.
type SimSensor struct {
	lock  sync.Mutex
	value int32
	err   error
}

// NewSimSensor creates a SimSensor reading deciC.
func NewSimSensor(deciC int32) *SimSensor {
	return &SimSensor{value: deciC}
}

// Set changes the reading.
func (s *SimSensor) Set(deciC int32, err error) {
	s.lock.Lock()
	s.value, s.err = deciC, err
	s.lock.Unlock()
}

// Read implements Sensor.
func (s *SimSensor) Read() (int32, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value, s.err
}
