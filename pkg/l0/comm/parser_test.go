package comm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodedStream(t *testing.T, frames ...*Frame) []byte {
	var out []byte
	for _, f := range frames {
		b, err := f.Bytes()
		require.NoError(t, err)
		out = append(out, streamSOF, byte(len(b)))
		out = append(out, b...)
	}
	return out
}

func TestParserStates(t *testing.T) {
	var p Parser
	require.Equal(t, SyncStateSyncing, p.State())

	pr := p.Parse(0x00)
	require.Equal(t, SyncStateSyncing, pr.State)
	require.Equal(t, TimerNoChange, pr.WhatAboutTimer())

	pr = p.Parse(streamSOF)
	require.Equal(t, SyncStateReady|SyncStateReceiving, pr.State)
	require.Equal(t, TimerRestart, pr.WhatAboutTimer())

	pr = p.Parse(HeaderSize)
	require.True(t, pr.State.IsReceiving())
	for _, b := range []byte{1, 0, 0, 0, 1, 0} {
		pr = p.Parse(b)
		require.Nil(t, pr.Frame)
	}
	pr = p.Parse(byte(TagAck))
	require.Equal(t, SyncStateReady, pr.State)
	require.Equal(t, TimerStop, pr.WhatAboutTimer())
	require.Equal(t, []byte{1, 0, 0, 0, 1, 0, byte(TagAck)}, pr.Frame)
}

func TestParserResync(t *testing.T) {
	good := &Frame{Driver: DriverWifi, Counter: 3, Payload: &WifiQuery{}}
	testCases := []struct {
		name   string
		prefix []byte
	}{
		{"noise", []byte{0x00, 0x13, 0xff}},
		{"length too small", []byte{streamSOF, 2}},
		{"length too large", []byte{streamSOF, MaxFrameSize + 1}},
		{"double sof", []byte{streamSOF}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var d StreamDecoder
			frames := d.Feed(append(append([]byte{}, tc.prefix...), encodedStream(t, good)...))
			require.Len(t, frames, 1)
			require.Equal(t, good, frames[0])
		})
	}
}

func TestParserTimeoutDropsPartialFrame(t *testing.T) {
	good := &Frame{Driver: DriverMotor, Counter: 8, Payload: &MotorStop{}}
	stream := encodedStream(t, good)

	var d StreamDecoder
	require.Empty(t, d.Feed(stream[:4]))
	require.True(t, d.State().IsReceiving())
	d.Timeout()
	require.Equal(t, SyncStateSyncing, d.State())

	frames := d.Feed(stream)
	require.Len(t, frames, 1)
	require.Equal(t, good, frames[0])
}

func TestParserTimeoutWhenIdle(t *testing.T) {
	var p Parser
	p.Parse(streamSOF)
	p.Parse(HeaderSize)
	for _, b := range []byte{1, 0, 0, 0, 1, 0, byte(TagAck)} {
		p.Parse(b)
	}
	require.Equal(t, SyncStateReady, p.Timeout().State)
}

func TestStreamDecoderDropsMalformed(t *testing.T) {
	first := &Frame{Driver: DriverIdentity, Counter: 1, Payload: &IdentityQuery{}}
	last := &Frame{Driver: DriverIdentity, Counter: 2, Repeat: 1, Payload: &Ack{}}
	bad := []byte{streamSOF, HeaderSize, 1, 0, 0, 0, 9, 0, 0x7e}

	stream := encodedStream(t, first)
	stream = append(stream, bad...)
	stream = append(stream, encodedStream(t, last)...)

	var d StreamDecoder
	var frames []*Frame
	// feed byte by byte, as a slow serial line would deliver.
	for _, b := range stream {
		frames = append(frames, d.Feed([]byte{b})...)
	}
	require.Equal(t, []*Frame{first, last}, frames)
}
