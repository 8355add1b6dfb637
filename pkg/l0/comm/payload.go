package comm

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// Tag discriminates payload variants on the wire.
type Tag byte

// Payload tags.
const (
	TagAck  Tag = 0x01
	TagNack Tag = 0x02

	TagIdentityFlash  Tag = 0x10
	TagIdentityQuery  Tag = 0x11
	TagIdentityStatus Tag = 0x12

	TagTemperatureConfig Tag = 0x20
	TagTemperatureQuery  Tag = 0x21
	TagTemperatureStatus Tag = 0x22

	TagWifiConfig Tag = 0x30
	TagWifiQuery  Tag = 0x31
	TagWifiStatus Tag = 0x32

	TagMotorRun    Tag = 0x40
	TagMotorStop   Tag = 0x41
	TagMotorStatus Tag = 0x42
)

// Kind groups payload variants by their role in the protocol.
type Kind int

// Payload kinds.
const (
	KindReply Kind = iota
	KindCommand
	KindStatus
)

// Payload is the closed set of frame payloads.
// Only types declared in this package implement it.
type Payload interface {
	Tag() Tag
	Kind() Kind

	marshalPayload() ([]byte, error)
	unmarshalPayload([]byte) error
}

// newPayloadFuncs maps every known tag to a constructor.
var newPayloadFuncs = map[Tag]func() Payload{
	TagAck:               func() Payload { return &Ack{} },
	TagNack:              func() Payload { return &Nack{} },
	TagIdentityFlash:     func() Payload { return &IdentityFlash{} },
	TagIdentityQuery:     func() Payload { return &IdentityQuery{} },
	TagIdentityStatus:    func() Payload { return &IdentityStatus{} },
	TagTemperatureConfig: func() Payload { return &TemperatureConfig{} },
	TagTemperatureQuery:  func() Payload { return &TemperatureQuery{} },
	TagTemperatureStatus: func() Payload { return &TemperatureStatus{} },
	TagWifiConfig:        func() Payload { return &WifiConfig{} },
	TagWifiQuery:         func() Payload { return &WifiQuery{} },
	TagWifiStatus:        func() Payload { return &WifiStatus{} },
	TagMotorRun:          func() Payload { return &MotorRun{} },
	TagMotorStop:         func() Payload { return &MotorStop{} },
	TagMotorStatus:       func() Payload { return &MotorStatus{} },
}

// NewPayload creates an empty payload for the tag.
func NewPayload(tag Tag) (Payload, bool) {
	fn, ok := newPayloadFuncs[tag]
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Ack is the positive acknowledgment of a command.
type Ack struct{}

// Tag implements Payload.
func (m *Ack) Tag() Tag { return TagAck }

// Kind implements Payload.
func (m *Ack) Kind() Kind { return KindReply }

func (m *Ack) marshalPayload() ([]byte, error) { return nil, nil }

func (m *Ack) unmarshalPayload(b []byte) error {
	if len(b) != 0 {
		return fmt.Errorf("ack carries %d bytes", len(b))
	}
	return nil
}

// Nack is the negative acknowledgment of a command.
type Nack struct {
	Reason NackReason
}

// Tag implements Payload.
func (m *Nack) Tag() Tag { return TagNack }

// Kind implements Payload.
func (m *Nack) Kind() Kind { return KindReply }

func (m *Nack) marshalPayload() ([]byte, error) { return []byte{byte(m.Reason)}, nil }

func (m *Nack) unmarshalPayload(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("nack carries %d bytes", len(b))
	}
	m.Reason = NackReason(b[0])
	return nil
}

// IdentityFlash writes the device identity into EEPROM.
type IdentityFlash struct {
	DeviceID    string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	HardwareRev string `protobuf:"bytes,2,opt,name=hardware_rev,proto3" json:"hardware_rev,omitempty"`
}

// Tag implements Payload.
func (m *IdentityFlash) Tag() Tag { return TagIdentityFlash }

// Kind implements Payload.
func (m *IdentityFlash) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *IdentityFlash) ProtoMessage() {}

// Reset implements proto.Message.
func (m *IdentityFlash) Reset() { *m = IdentityFlash{} }

// String implements proto.Message.
func (m *IdentityFlash) String() string { return proto.CompactTextString(m) }

func (m *IdentityFlash) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *IdentityFlash) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// IdentityQuery asks the identity driver to push its status.
type IdentityQuery struct{}

// Tag implements Payload.
func (m *IdentityQuery) Tag() Tag { return TagIdentityQuery }

// Kind implements Payload.
func (m *IdentityQuery) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *IdentityQuery) ProtoMessage() {}

// Reset implements proto.Message.
func (m *IdentityQuery) Reset() { *m = IdentityQuery{} }

// String implements proto.Message.
func (m *IdentityQuery) String() string { return proto.CompactTextString(m) }

func (m *IdentityQuery) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *IdentityQuery) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// IdentityStatus is the status snapshot of the identity driver.
type IdentityStatus struct {
	Initial     bool   `protobuf:"varint,1,opt,name=initial,proto3" json:"initial,omitempty"`
	DeviceID    string `protobuf:"bytes,2,opt,name=device_id,proto3" json:"device_id,omitempty"`
	HardwareRev string `protobuf:"bytes,3,opt,name=hardware_rev,proto3" json:"hardware_rev,omitempty"`
	MachineID   string `protobuf:"bytes,4,opt,name=machine_id,proto3" json:"machine_id,omitempty"`
	Flashed     bool   `protobuf:"varint,5,opt,name=flashed,proto3" json:"flashed,omitempty"`
}

// Tag implements Payload.
func (m *IdentityStatus) Tag() Tag { return TagIdentityStatus }

// Kind implements Payload.
func (m *IdentityStatus) Kind() Kind { return KindStatus }

// ProtoMessage implements proto.Message.
func (m *IdentityStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *IdentityStatus) Reset() { *m = IdentityStatus{} }

// String implements proto.Message.
func (m *IdentityStatus) String() string { return proto.CompactTextString(m) }

func (m *IdentityStatus) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *IdentityStatus) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// TemperatureConfig changes sampling of the temperature driver.
type TemperatureConfig struct {
	IntervalMs     uint32 `protobuf:"varint,1,opt,name=interval_ms,proto3" json:"interval_ms,omitempty"`
	ThresholdDeciC uint32 `protobuf:"varint,2,opt,name=threshold_deci_c,proto3" json:"threshold_deci_c,omitempty"`
}

// Tag implements Payload.
func (m *TemperatureConfig) Tag() Tag { return TagTemperatureConfig }

// Kind implements Payload.
func (m *TemperatureConfig) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *TemperatureConfig) ProtoMessage() {}

// Reset implements proto.Message.
func (m *TemperatureConfig) Reset() { *m = TemperatureConfig{} }

// String implements proto.Message.
func (m *TemperatureConfig) String() string { return proto.CompactTextString(m) }

func (m *TemperatureConfig) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *TemperatureConfig) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// TemperatureQuery asks the temperature driver to push its status.
type TemperatureQuery struct{}

// Tag implements Payload.
func (m *TemperatureQuery) Tag() Tag { return TagTemperatureQuery }

// Kind implements Payload.
func (m *TemperatureQuery) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *TemperatureQuery) ProtoMessage() {}

// Reset implements proto.Message.
func (m *TemperatureQuery) Reset() { *m = TemperatureQuery{} }

// String implements proto.Message.
func (m *TemperatureQuery) String() string { return proto.CompactTextString(m) }

func (m *TemperatureQuery) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *TemperatureQuery) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// TemperatureStatus is the status snapshot of the temperature driver.
type TemperatureStatus struct {
	Initial     bool   `protobuf:"varint,1,opt,name=initial,proto3" json:"initial,omitempty"`
	DeciCelsius int32  `protobuf:"varint,2,opt,name=deci_celsius,proto3" json:"deci_celsius,omitempty"`
	IntervalMs  uint32 `protobuf:"varint,3,opt,name=interval_ms,proto3" json:"interval_ms,omitempty"`
	SensorOK    bool   `protobuf:"varint,4,opt,name=sensor_ok,proto3" json:"sensor_ok,omitempty"`
}

// Tag implements Payload.
func (m *TemperatureStatus) Tag() Tag { return TagTemperatureStatus }

// Kind implements Payload.
func (m *TemperatureStatus) Kind() Kind { return KindStatus }

// ProtoMessage implements proto.Message.
func (m *TemperatureStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *TemperatureStatus) Reset() { *m = TemperatureStatus{} }

// String implements proto.Message.
func (m *TemperatureStatus) String() string { return proto.CompactTextString(m) }

func (m *TemperatureStatus) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *TemperatureStatus) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// Wi-Fi security modes.
const (
	SecurityOpen uint32 = 0
	SecurityWPA2 uint32 = 1
	SecurityWPA3 uint32 = 2
)

// WifiConfig is relayed to the Wi-Fi radio.
type WifiConfig struct {
	SSID       string `protobuf:"bytes,1,opt,name=ssid,proto3" json:"ssid,omitempty"`
	Passphrase string `protobuf:"bytes,2,opt,name=passphrase,proto3" json:"-"`
	Security   uint32 `protobuf:"varint,3,opt,name=security,proto3" json:"security,omitempty"`
}

// Tag implements Payload.
func (m *WifiConfig) Tag() Tag { return TagWifiConfig }

// Kind implements Payload.
func (m *WifiConfig) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *WifiConfig) ProtoMessage() {}

// Reset implements proto.Message.
func (m *WifiConfig) Reset() { *m = WifiConfig{} }

// String implements proto.Message.
func (m *WifiConfig) String() string { return proto.CompactTextString(m) }

func (m *WifiConfig) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *WifiConfig) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// WifiQuery asks the Wi-Fi relay to push its status.
type WifiQuery struct{}

// Tag implements Payload.
func (m *WifiQuery) Tag() Tag { return TagWifiQuery }

// Kind implements Payload.
func (m *WifiQuery) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *WifiQuery) ProtoMessage() {}

// Reset implements proto.Message.
func (m *WifiQuery) Reset() { *m = WifiQuery{} }

// String implements proto.Message.
func (m *WifiQuery) String() string { return proto.CompactTextString(m) }

func (m *WifiQuery) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *WifiQuery) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// WifiStatus is the status snapshot of the Wi-Fi relay.
type WifiStatus struct {
	Initial   bool   `protobuf:"varint,1,opt,name=initial,proto3" json:"initial,omitempty"`
	SSID      string `protobuf:"bytes,2,opt,name=ssid,proto3" json:"ssid,omitempty"`
	Security  uint32 `protobuf:"varint,3,opt,name=security,proto3" json:"security,omitempty"`
	Connected bool   `protobuf:"varint,4,opt,name=connected,proto3" json:"connected,omitempty"`
	RSSI      int32  `protobuf:"varint,5,opt,name=rssi,proto3" json:"rssi,omitempty"`
}

// Tag implements Payload.
func (m *WifiStatus) Tag() Tag { return TagWifiStatus }

// Kind implements Payload.
func (m *WifiStatus) Kind() Kind { return KindStatus }

// ProtoMessage implements proto.Message.
func (m *WifiStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *WifiStatus) Reset() { *m = WifiStatus{} }

// String implements proto.Message.
func (m *WifiStatus) String() string { return proto.CompactTextString(m) }

func (m *WifiStatus) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *WifiStatus) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// MotorRun starts the grinder motor.
// DurationMs of 0 runs until MotorStop.
type MotorRun struct {
	RPM        uint32 `protobuf:"varint,1,opt,name=rpm,proto3" json:"rpm,omitempty"`
	Reverse    bool   `protobuf:"varint,2,opt,name=reverse,proto3" json:"reverse,omitempty"`
	DurationMs uint32 `protobuf:"varint,3,opt,name=duration_ms,proto3" json:"duration_ms,omitempty"`
}

// Tag implements Payload.
func (m *MotorRun) Tag() Tag { return TagMotorRun }

// Kind implements Payload.
func (m *MotorRun) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *MotorRun) ProtoMessage() {}

// Reset implements proto.Message.
func (m *MotorRun) Reset() { *m = MotorRun{} }

// String implements proto.Message.
func (m *MotorRun) String() string { return proto.CompactTextString(m) }

func (m *MotorRun) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *MotorRun) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// MotorStop stops the grinder motor.
type MotorStop struct{}

// Tag implements Payload.
func (m *MotorStop) Tag() Tag { return TagMotorStop }

// Kind implements Payload.
func (m *MotorStop) Kind() Kind { return KindCommand }

// ProtoMessage implements proto.Message.
func (m *MotorStop) ProtoMessage() {}

// Reset implements proto.Message.
func (m *MotorStop) Reset() { *m = MotorStop{} }

// String implements proto.Message.
func (m *MotorStop) String() string { return proto.CompactTextString(m) }

func (m *MotorStop) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *MotorStop) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// MotorStatus is the status snapshot of the motor bridge.
type MotorStatus struct {
	Initial bool   `protobuf:"varint,1,opt,name=initial,proto3" json:"initial,omitempty"`
	RPM     uint32 `protobuf:"varint,2,opt,name=rpm,proto3" json:"rpm,omitempty"`
	Reverse bool   `protobuf:"varint,3,opt,name=reverse,proto3" json:"reverse,omitempty"`
	Running bool   `protobuf:"varint,4,opt,name=running,proto3" json:"running,omitempty"`
	Fault   string `protobuf:"bytes,5,opt,name=fault,proto3" json:"fault,omitempty"`
}

// Tag implements Payload.
func (m *MotorStatus) Tag() Tag { return TagMotorStatus }

// Kind implements Payload.
func (m *MotorStatus) Kind() Kind { return KindStatus }

// ProtoMessage implements proto.Message.
func (m *MotorStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *MotorStatus) Reset() { *m = MotorStatus{} }

// String implements proto.Message.
func (m *MotorStatus) String() string { return proto.CompactTextString(m) }

func (m *MotorStatus) marshalPayload() ([]byte, error) { return proto.Marshal(m) }

func (m *MotorStatus) unmarshalPayload(b []byte) error { return proto.Unmarshal(b, m) }

// InitialStatus tells whether p is the first status a driver reports
// after starting.
func InitialStatus(p Payload) bool {
	switch m := p.(type) {
	case *IdentityStatus:
		return m.Initial
	case *TemperatureStatus:
		return m.Initial
	case *WifiStatus:
		return m.Initial
	case *MotorStatus:
		return m.Initial
	}
	return false
}
