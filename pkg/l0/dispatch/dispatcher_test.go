package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/metrics"
)

type recordingInbox struct {
	lock   sync.Mutex
	frames []*comm.Frame
}

func (r *recordingInbox) DeliverFrame(ctx context.Context, f *comm.Frame) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func TestDispatcherRoutesAfterSeal(t *testing.T) {
	d := New()
	d.Metrics = metrics.NewMetrics()
	motor, wifi := &recordingInbox{}, &recordingInbox{}
	d.Register(comm.DriverMotor, motor)
	d.Register(comm.DriverWifi, wifi)

	f := &comm.Frame{Driver: comm.DriverMotor, Counter: 1, Payload: &comm.MotorStop{}}
	require.Equal(t, ErrNotReady, d.Route(context.Background(), f))
	require.Empty(t, motor.frames)

	d.Seal()
	require.NoError(t, d.Route(context.Background(), f))
	require.Equal(t, []*comm.Frame{f}, motor.frames)
	require.Empty(t, wifi.frames)
	require.ElementsMatch(t, []comm.DriverID{comm.DriverMotor, comm.DriverWifi}, d.Registered())
	require.Equal(t, 1.0, testutil.ToFloat64(d.Metrics.FramesDropped.WithLabelValues(metrics.DropNotReady)))
}

func TestDispatcherUnregisteredIsInert(t *testing.T) {
	d := New()
	d.Metrics = metrics.NewMetrics()
	motor := &recordingInbox{}
	d.Register(comm.DriverMotor, motor)
	d.Seal()

	for _, id := range []comm.DriverID{comm.DriverIdentity, comm.DriverID(0), comm.DriverID(0xff)} {
		f := &comm.Frame{Driver: id, Counter: 9, Payload: &comm.IdentityQuery{}}
		require.Equal(t, ErrUnregistered, d.Route(context.Background(), f))
		require.NotPanics(t, func() { d.HandleFrame(context.Background(), f) })
	}
	require.Empty(t, motor.frames)
	require.Equal(t, 6.0, testutil.ToFloat64(d.Metrics.FramesDropped.WithLabelValues(metrics.DropUnregistered)))
}

func TestDispatcherRegisterPanics(t *testing.T) {
	d := New()
	d.Register(comm.DriverMotor, &recordingInbox{})
	require.Panics(t, func() { d.Register(comm.DriverMotor, &recordingInbox{}) })
	d.Seal()
	d.Seal()
	require.Panics(t, func() { d.Register(comm.DriverWifi, &recordingInbox{}) })
	select {
	case <-d.Sealed():
	default:
		t.Fatal("sealed chan not closed")
	}
}

func TestDispatcherNilMetrics(t *testing.T) {
	d := New()
	require.Nil(t, d.Registered())
	f := &comm.Frame{Driver: comm.DriverMotor, Payload: &comm.MotorStop{}}
	require.NotPanics(t, func() { d.HandleFrame(context.Background(), f) })
}
