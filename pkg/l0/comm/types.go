package comm

import (
	"fmt"
	"sync/atomic"
)

// DriverID identifies a peripheral driver.
type DriverID byte

// Known drivers.
const (
	DriverIdentity    DriverID = 1
	DriverTemperature DriverID = 2
	DriverWifi        DriverID = 3
	DriverMotor       DriverID = 4
)

var driverNames = map[DriverID]string{
	DriverIdentity:    "identity",
	DriverTemperature: "temperature",
	DriverWifi:        "wifi",
	DriverMotor:       "motor",
}

// String implements fmt.Stringer.
func (d DriverID) String() string {
	if name, ok := driverNames[d]; ok {
		return name
	}
	return fmt.Sprintf("driver(%d)", byte(d))
}

// IsKnown indicates the id is one of the compiled-in drivers.
func (d DriverID) IsKnown() bool {
	_, ok := driverNames[d]
	return ok
}

// DriverByName looks up a driver id by its name.
func DriverByName(name string) (DriverID, bool) {
	for id, n := range driverNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// MsgCounter is the correlation id of a command and its replies.
type MsgCounter uint32

// RepeatCounter counts resends of the same command.
type RepeatCounter uint8

// CounterSource hands out correlation ids. It never yields 0.
// It's safe for concurrent use.
type CounterSource struct {
	last uint32
}

// NewCounterSource creates a CounterSource whose first id is start
// (or 1 if start is 0).
func NewCounterSource(start MsgCounter) *CounterSource {
	return &CounterSource{last: uint32(start) - 1}
}

// Next returns the next correlation id.
func (s *CounterSource) Next() MsgCounter {
	for {
		if n := atomic.AddUint32(&s.last, 1); n != 0 {
			return MsgCounter(n)
		}
	}
}

// NackReason tells why a command was rejected.
type NackReason byte

// Nack reasons. Values from 0x10 are driver specific.
const (
	NackWrongParameter       NackReason = 1
	NackUnknownDriverCommand NackReason = 2
	NackPayloadBroken        NackReason = 3

	NackDeviceFault NackReason = 0x10
	NackBusy        NackReason = 0x11
	NackStorage     NackReason = 0x12
)

var nackNames = map[NackReason]string{
	NackWrongParameter:       "wrong parameter",
	NackUnknownDriverCommand: "unknown driver command",
	NackPayloadBroken:        "payload broken",
	NackDeviceFault:          "device fault",
	NackBusy:                 "busy",
	NackStorage:              "storage failure",
}

// Error implements error so a driver can return the reason directly.
func (r NackReason) Error() string {
	if name, ok := nackNames[r]; ok {
		return "nack: " + name
	}
	return fmt.Sprintf("nack: reason %d", byte(r))
}
