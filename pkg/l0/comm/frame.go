package comm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame layout.
const (
	HeaderSize     = 7
	MaxPayloadSize = 120
	MaxFrameSize   = HeaderSize + MaxPayloadSize
)

// Frame is one protocol unit addressed to a driver.
type Frame struct {
	Driver  DriverID
	Counter MsgCounter
	Repeat  RepeatCounter
	Payload Payload
}

// Reply creates the reply frame echoing driver, counter and repeat.
func (f *Frame) Reply(payload Payload) *Frame {
	return &Frame{Driver: f.Driver, Counter: f.Counter, Repeat: f.Repeat, Payload: payload}
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	if f.Payload == nil {
		return fmt.Sprintf("%s#%d.%d <nil>", f.Driver, f.Counter, f.Repeat)
	}
	return fmt.Sprintf("%s#%d.%d %T%+v", f.Driver, f.Counter, f.Repeat, f.Payload, f.Payload)
}

// Bytes returns the encoded frame.
func (f *Frame) Bytes() ([]byte, error) {
	if f.Payload == nil {
		return nil, ErrNoPayload
	}
	body, err := f.Payload.marshalPayload()
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(body))
	}
	b := make([]byte, HeaderSize+len(body))
	b[0] = byte(f.Driver)
	binary.BigEndian.PutUint32(b[1:5], uint32(f.Counter))
	b[5] = byte(f.Repeat)
	b[6] = byte(f.Payload.Tag())
	copy(b[HeaderSize:], body)
	return b, nil
}

// WriteTo writes the frame with stream delimiters.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(append([]byte{streamSOF, byte(len(b))}, b...))
	return int64(n), err
}

// Decode parses a frame. Any error is a *MalformedError.
func Decode(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, malformed(fmt.Sprintf("%d bytes shorter than header", len(b)), nil)
	}
	if len(b) > MaxFrameSize {
		return nil, malformed(fmt.Sprintf("%d bytes exceeds maximum", len(b)), nil)
	}
	tag := Tag(b[6])
	payload, ok := NewPayload(tag)
	if !ok {
		return nil, malformed(fmt.Sprintf("unknown tag 0x%02x", byte(tag)), nil)
	}
	if err := payload.unmarshalPayload(b[HeaderSize:]); err != nil {
		return nil, malformed(fmt.Sprintf("tag 0x%02x body", byte(tag)), err)
	}
	return &Frame{
		Driver:  DriverID(b[0]),
		Counter: MsgCounter(binary.BigEndian.Uint32(b[1:5])),
		Repeat:  RepeatCounter(b[5]),
		Payload: payload,
	}, nil
}
