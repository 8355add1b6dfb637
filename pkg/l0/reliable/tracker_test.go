package reliable

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/metrics"
)

type recordingSender struct {
	frames []*comm.Frame
	err    error
}

func (s *recordingSender) SendFrame(f *comm.Frame) error {
	s.frames = append(s.frames, f)
	return s.err
}

type manualTimers struct {
	armed    []Key
	canceled []Key
}

func (m *manualTimers) Arm(key Key, d time.Duration) func() {
	m.armed = append(m.armed, key)
	return func() { m.canceled = append(m.canceled, key) }
}

func (m *manualTimers) last() Key {
	return m.armed[len(m.armed)-1]
}

type trackerTestEnv struct {
	sender  *recordingSender
	timers  *manualTimers
	tracker *Tracker
	results []Result
}

func newTrackerTestEnv(start comm.MsgCounter) *trackerTestEnv {
	env := &trackerTestEnv{sender: &recordingSender{}, timers: &manualTimers{}}
	env.tracker = NewTracker(env.sender, comm.NewCounterSource(start), env.timers)
	env.tracker.Metrics = metrics.NewMetrics()
	return env
}

func (e *trackerTestEnv) send(payload comm.Payload) comm.MsgCounter {
	return e.tracker.SendConfirmable(comm.DriverTemperature, payload, func(r Result) {
		e.results = append(e.results, r)
	})
}

func TestTrackerBoundedRetry(t *testing.T) {
	env := newTrackerTestEnv(1)
	payload := &comm.TemperatureStatus{DeciCelsius: 215}
	counter := env.send(payload)
	require.Len(t, env.sender.frames, 1)

	for i := 0; i < DefaultMaxRetries; i++ {
		env.tracker.Expire(env.timers.last())
		require.Empty(t, env.results)
	}
	env.tracker.Expire(env.timers.last())

	require.Len(t, env.sender.frames, DefaultMaxRetries+1)
	for n, f := range env.sender.frames {
		require.Equal(t, counter, f.Counter)
		require.Equal(t, comm.RepeatCounter(n), f.Repeat)
		require.Equal(t, payload, f.Payload)
	}
	require.Len(t, env.results, 1)
	require.Equal(t, ErrRetriesExhausted, env.results[0].Err)
	require.Equal(t, counter, env.results[0].Counter)
	require.Zero(t, env.tracker.Pending())

	// late expiries after the terminal outcome change nothing.
	env.tracker.Expire(env.timers.last())
	require.Len(t, env.results, 1)
	require.Len(t, env.sender.frames, DefaultMaxRetries+1)

	m := env.tracker.Metrics
	require.Equal(t, float64(DefaultMaxRetries), testutil.ToFloat64(m.Retransmissions.WithLabelValues("temperature")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ConfirmableTotal.WithLabelValues("temperature", OutcomeExhausted)))
}

func TestTrackerAck(t *testing.T) {
	env := newTrackerTestEnv(1)
	counter := env.send(&comm.TemperatureStatus{})
	env.tracker.Expire(env.timers.last())
	require.True(t, env.tracker.Resolve(counter, true, 0))
	require.Len(t, env.results, 1)
	require.NoError(t, env.results[0].Err)
	require.Equal(t, []Key{{Counter: counter, Repeat: 1}}, env.timers.canceled)
	require.Zero(t, env.tracker.Pending())
}

func TestTrackerNackIsNotRetried(t *testing.T) {
	env := newTrackerTestEnv(1)
	counter := env.send(&comm.TemperatureStatus{})
	require.True(t, env.tracker.Resolve(counter, false, comm.NackWrongParameter))
	require.Len(t, env.results, 1)
	require.True(t, errors.Is(env.results[0].Err, comm.NackWrongParameter))

	// a deadline that fired before the cancel took effect does not resend.
	env.tracker.Expire(env.timers.last())
	require.Len(t, env.sender.frames, 1)
	require.Len(t, env.results, 1)
}

func TestTrackerStaleReply(t *testing.T) {
	env := newTrackerTestEnv(1)
	counter := env.send(&comm.TemperatureStatus{})
	require.False(t, env.tracker.Resolve(counter+100, true, 0))
	require.False(t, env.tracker.Resolve(counter+100, false, comm.NackBusy))
	require.Empty(t, env.results)
	require.Equal(t, 1, env.tracker.Pending())

	require.True(t, env.tracker.Resolve(counter, true, 0))
	require.False(t, env.tracker.Resolve(counter, true, 0))
	require.Len(t, env.results, 1)
}

func TestTrackerStaleExpiry(t *testing.T) {
	env := newTrackerTestEnv(1)
	env.send(&comm.TemperatureStatus{})
	first := env.timers.last()
	env.tracker.Expire(first)
	require.Len(t, env.sender.frames, 2)
	// the deadline of attempt 0 delivered twice is ignored.
	env.tracker.Expire(first)
	require.Len(t, env.sender.frames, 2)
}

func TestTrackerOutOfOrderAcks(t *testing.T) {
	env := newTrackerTestEnv(5)
	a := env.send(&comm.TemperatureStatus{DeciCelsius: 1})
	b := env.send(&comm.TemperatureStatus{DeciCelsius: 2})
	require.Equal(t, comm.MsgCounter(5), a)
	require.Equal(t, comm.MsgCounter(6), b)

	require.True(t, env.tracker.Resolve(b, true, 0))
	require.True(t, env.tracker.Resolve(a, true, 0))
	require.Len(t, env.results, 2)
	require.Equal(t, b, env.results[0].Counter)
	require.Equal(t, a, env.results[1].Counter)
	for _, r := range env.results {
		require.NoError(t, r.Err)
	}
}

func TestTrackerSendErrorIsRetried(t *testing.T) {
	env := newTrackerTestEnv(1)
	env.sender.err = errors.New("line down")
	env.send(&comm.TemperatureStatus{})
	require.Empty(t, env.results)
	require.Equal(t, 1, env.tracker.Pending())

	env.sender.err = nil
	env.tracker.Expire(env.timers.last())
	require.Len(t, env.sender.frames, 2)
	require.Equal(t, comm.RepeatCounter(1), env.sender.frames[1].Repeat)
}

func TestTrackerSkipsCountersInFlight(t *testing.T) {
	env := newTrackerTestEnv(0xffffffff)
	a := env.send(&comm.TemperatureStatus{})
	env.tracker.Counters = comm.NewCounterSource(a)
	b := env.send(&comm.TemperatureStatus{})
	require.NotEqual(t, a, b)
	require.Equal(t, 2, env.tracker.Pending())
}

func TestTrackerAbandon(t *testing.T) {
	env := newTrackerTestEnv(1)
	env.send(&comm.TemperatureStatus{})
	env.send(&comm.TemperatureStatus{})
	env.tracker.Abandon(nil)
	require.Zero(t, env.tracker.Pending())
	require.Len(t, env.timers.canceled, 2)
	require.Empty(t, env.results)

	closed := errors.New("closed")
	env.send(&comm.TemperatureStatus{})
	env.tracker.Abandon(closed)
	require.Len(t, env.results, 1)
	require.Equal(t, closed, env.results[0].Err)
}

func exhaust(env *trackerTestEnv) {
	for env.tracker.Pending() > 0 && len(env.sender.frames) <= 2*MaxRetriesLimit {
		env.tracker.Expire(env.timers.last())
	}
}

func TestTrackerRetriesWithinRepeatRange(t *testing.T) {
	for _, maxRetries := range []int{MaxRetriesLimit, 300} {
		env := newTrackerTestEnv(1)
		env.tracker.MaxRetries = maxRetries
		env.send(&comm.TemperatureStatus{})
		exhaust(env)

		require.Zero(t, env.tracker.Pending(), "max retries %d", maxRetries)
		require.Len(t, env.sender.frames, MaxRetriesLimit+1)
		for n, f := range env.sender.frames {
			require.Equal(t, comm.RepeatCounter(n), f.Repeat)
		}
		require.Len(t, env.results, 1)
		require.Equal(t, ErrRetriesExhausted, env.results[0].Err)
	}
}

func TestValidateMaxRetries(t *testing.T) {
	require.NoError(t, ValidateMaxRetries(0))
	require.NoError(t, ValidateMaxRetries(MaxRetriesLimit))
	require.Error(t, ValidateMaxRetries(MaxRetriesLimit+1))
	require.Error(t, ValidateMaxRetries(-1))
}

func TestTrackerUnencodablePayload(t *testing.T) {
	env := newTrackerTestEnv(1)
	counter := env.send(&comm.IdentityStatus{DeviceID: strings.Repeat("x", comm.MaxPayloadSize)})
	require.Empty(t, env.sender.frames)
	require.Empty(t, env.timers.armed)
	require.Zero(t, env.tracker.Pending())
	require.Len(t, env.results, 1)
	require.True(t, errors.Is(env.results[0].Err, comm.ErrPayloadTooLarge))
	require.Equal(t, counter, env.results[0].Counter)
	require.Equal(t, 1.0, testutil.ToFloat64(env.tracker.Metrics.ConfirmableTotal.WithLabelValues("temperature", OutcomeInvalid)))
}
