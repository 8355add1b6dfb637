package comm

import "github.com/golang/glog"

// Parser splits a byte stream into raw frames.
type Parser struct {
	state   parseState
	buf     [MaxFrameSize]byte
	want    int
	recvLen int
	// Discarded counts bytes thrown away while hunting for a frame start.
	Discarded int
}

// SyncState indicates the state of the stream.
type SyncState int

const (
	// SyncStateSyncing means the parser is hunting for a frame start.
	SyncStateSyncing SyncState = 0
	// SyncStateReady means the parser is between frames.
	SyncStateReady SyncState = 0x01
	// SyncStateReceiving means a frame is partially received.
	SyncStateReceiving SyncState = 0x02
)

// IsReady indicates the parser is aligned on frame boundaries.
func (s SyncState) IsReady() bool {
	return s&SyncStateReady != 0
}

// IsReceiving indicates it's in the middle of receiving a frame.
func (s SyncState) IsReceiving() bool {
	return s&SyncStateReceiving != 0
}

// TimerAction defines what to do with timer.
type TimerAction int

const (
	// TimerNoChange indicates keep the timer as-is.
	TimerNoChange TimerAction = iota
	// TimerRestart to restart the timer.
	TimerRestart
	// TimerStop to stop/cancel the timer.
	TimerStop
)

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	State SyncState
	// Frame holds the raw bytes of a complete frame, if any.
	// It's owned by the caller.
	Frame []byte
}

// WhatAboutTimer decides what to do with the inter-byte timer.
func (r ParseResult) WhatAboutTimer() TimerAction {
	if r.State.IsReceiving() {
		return TimerRestart
	}
	if r.State.IsReady() {
		return TimerStop
	}
	return TimerNoChange
}

type parseState int

const (
	stateSOF  parseState = iota // hunting for SOF
	stateIdle                   // aligned, waiting for SOF
	stateLen                    // waiting for length
	stateData                   // waiting for frame bytes
)

const streamSOF byte = 0xa5

// State gets the current sync state.
func (p *Parser) State() SyncState {
	switch p.state {
	case stateSOF:
		return SyncStateSyncing
	case stateIdle:
		return SyncStateReady
	}
	return SyncStateReady | SyncStateReceiving
}

// Reset drops any partial frame and hunts for the next SOF.
func (p *Parser) Reset() (pr ParseResult) {
	p.resync()
	pr.State = p.State()
	return
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	pr.Frame = p.parseByte(b)
	pr.State = p.State()
	return
}

// Timeout notifies the parser the inter-byte timer expired.
func (p *Parser) Timeout() (pr ParseResult) {
	if p.state == stateLen || p.state == stateData {
		glog.V(2).Infof("frame timeout after %d/%d bytes", p.recvLen, p.want)
		p.resync()
	}
	pr.State = p.State()
	return
}

func (p *Parser) parseByte(b byte) []byte {
	switch p.state {
	case stateSOF, stateIdle:
		if b == streamSOF {
			p.state = stateLen
			return nil
		}
		p.Discarded++
		p.state = stateSOF
	case stateLen:
		if n := int(b); n < HeaderSize || n > MaxFrameSize {
			p.Discarded += 2
			p.resync()
			// the length byte may itself be the next SOF.
			if b == streamSOF {
				p.Discarded--
				p.state = stateLen
			}
			return nil
		}
		p.want, p.recvLen = int(b), 0
		p.state = stateData
	case stateData:
		p.buf[p.recvLen] = b
		p.recvLen++
		if p.recvLen >= p.want {
			p.state = stateIdle
			frame := make([]byte, p.want)
			copy(frame, p.buf[:p.want])
			return frame
		}
	}
	return nil
}

func (p *Parser) resync() {
	p.state, p.want, p.recvLen = stateSOF, 0, 0
}
