package motor

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
	"github.com/robotalks/grinder/pkg/l0/driver/drivertest"
)

func startDriver(t *testing.T) (*Driver, *SimPort, *drivertest.Runtime) {
	port := &SimPort{}
	d := New(port)
	rt := drivertest.New(comm.DriverMotor)
	for _, phase := range driver.Phases {
		require.NoError(t, d.Startup(rt.Context(), phase))
	}
	return d, port, rt
}

func TestRunAndStop(t *testing.T) {
	d, port, rt := startDriver(t)
	require.Equal(t, &comm.MotorStatus{Initial: true}, d.ReportStatus(true))

	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: 1200})))
	require.True(t, port.IsRunning())
	require.Equal(t, 1, rt.Pushes())
	require.Empty(t, rt.Timers())
	require.Equal(t, &comm.MotorStatus{RPM: 1200, Running: true}, d.ReportStatus(false))

	// changing speed in the same direction is fine.
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(2, &comm.MotorRun{RPM: 1500})))
	require.Equal(t, uint32(1500), port.RPM)

	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(3, &comm.MotorStop{})))
	require.False(t, port.IsRunning())
	require.Equal(t, &comm.MotorStatus{}, d.ReportStatus(false))
}

func TestRunValidation(t *testing.T) {
	d, port, rt := startDriver(t)
	require.Equal(t, comm.NackWrongParameter, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: DefaultMinRPM - 1})))
	require.Equal(t, comm.NackWrongParameter, d.ProcessCommand(rt.Context(), rt.Command(2, &comm.MotorRun{RPM: DefaultMaxRPM + 1})))
	require.False(t, port.IsRunning())

	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(3, &comm.MotorRun{RPM: 800})))
	require.Equal(t, comm.NackBusy, d.ProcessCommand(rt.Context(), rt.Command(4, &comm.MotorRun{RPM: 800, Reverse: true})))
	require.False(t, port.Reverse)

	require.Equal(t, comm.NackUnknownDriverCommand, d.ProcessCommand(rt.Context(), rt.Command(5, &comm.WifiQuery{})))
}

func TestRunDuration(t *testing.T) {
	d, port, rt := startDriver(t)
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: 900, DurationMs: 2500})))
	timers := rt.Timers()
	require.Len(t, timers, 1)
	require.Equal(t, 2500*time.Millisecond, timers[0].After)

	// a new run replaces the timer; the stale one is ignored.
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(2, &comm.MotorRun{RPM: 1000, DurationMs: 500})))
	stale := timers[0]
	require.True(t, stale.Canceled)
	rt.Pushes()
	d.HandleEvent(rt.Context(), driver.Event{Value: stale.Value})
	require.True(t, port.IsRunning())
	require.Zero(t, rt.Pushes())

	timers = rt.Timers()
	require.Len(t, timers, 1)
	d.HandleEvent(rt.Context(), driver.Event{Value: timers[0].Value})
	require.False(t, port.IsRunning())
	require.Equal(t, 1, rt.Pushes())
	require.False(t, d.ReportStatus(false).(*comm.MotorStatus).Running)
}

func TestPortFault(t *testing.T) {
	d, port, rt := startDriver(t)
	port.Err = errors.New("overcurrent")
	require.Equal(t, comm.NackDeviceFault, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: 900})))
	require.Equal(t, "overcurrent", d.ReportStatus(false).(*comm.MotorStatus).Fault)

	port.Err = nil
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(2, &comm.MotorRun{RPM: 900})))
	require.Empty(t, d.ReportStatus(false).(*comm.MotorStatus).Fault)
}

func TestShutdownStops(t *testing.T) {
	d, port, rt := startDriver(t)
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: 900})))
	d.Shutdown(rt.Context())
	require.False(t, port.IsRunning())
}

func fakeController(t *testing.T, conn net.Conn, replies map[string]string) {
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			reply, ok := replies[line[:len(line)-1]]
			if !ok {
				reply = "???"
			}
			if _, err := io.WriteString(conn, reply+"\n"); err != nil {
				return
			}
		}
	}()
}

func TestLinePort(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	fakeController(t, b, map[string]string{
		"RUN 1200 F": "OK",
		"RUN 1200 R": "ERR stalled",
		"STOP":       "OK",
	})
	p := NewLinePort(a)
	require.NoError(t, p.Run(1200, false))
	require.EqualError(t, p.Run(1200, true), "stalled")
	require.NoError(t, p.Stop())
	require.Error(t, p.Run(5, false))
}

func TestLinePortSilentController(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go io.Copy(io.Discard, b)

	p := NewLinePort(a)
	p.Timeout = 20 * time.Millisecond
	require.ErrorIs(t, p.Stop(), ErrNoReply)

	// the driver turns the timeout into a device fault and keeps serving.
	d, _, rt := startDriver(t)
	d.Port = p
	require.Equal(t, comm.NackDeviceFault, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.MotorRun{RPM: 900})))
	status := d.ReportStatus(false).(*comm.MotorStatus)
	require.False(t, status.Running)
	require.Contains(t, status.Fault, ErrNoReply.Error())
}

func TestLinePortDropsLateReply(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		r := bufio.NewReader(b)
		for n := 0; ; n++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			reply := "OK"
			if n == 0 {
				time.Sleep(50 * time.Millisecond)
				reply = "ERR late"
			}
			if line != "STOP\n" {
				reply = "???"
			}
			if _, err := io.WriteString(b, reply+"\n"); err != nil {
				return
			}
		}
	}()

	p := NewLinePort(a)
	p.Timeout = 20 * time.Millisecond
	require.ErrorIs(t, p.Stop(), ErrNoReply)
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, p.Stop())
}
