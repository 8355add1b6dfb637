package comm

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/metrics"
)

// FrameHandler is called when a frame is received.
type FrameHandler interface {
	HandleFrame(context.Context, *Frame)
}

// HandleFrameFunc is func type of FrameHandler.
type HandleFrameFunc func(context.Context, *Frame)

// HandleFrame implements FrameHandler.
func (f HandleFrameFunc) HandleFrame(ctx context.Context, frame *Frame) {
	f(ctx, frame)
}

// FrameSender transmits frames on the physical link.
type FrameSender interface {
	SendFrame(*Frame) error
}

// StreamDecoder turns received bytes into frames.
// Malformed frames are dropped here and never reach the caller.
type StreamDecoder struct {
	Metrics *metrics.Metrics

	parser Parser
}

// Feed consumes received bytes and returns the complete frames.
func (d *StreamDecoder) Feed(buf []byte) (frames []*Frame) {
	for _, b := range buf {
		pr := d.parser.Parse(b)
		if pr.Frame == nil {
			continue
		}
		d.Metrics.FrameReceived()
		frame, err := Decode(pr.Frame)
		if err != nil {
			glog.V(2).Infof("drop frame: %v", err)
			d.Metrics.FrameMalformed()
			continue
		}
		frames = append(frames, frame)
	}
	return
}

// State gets the sync state of the underlying parser.
func (d *StreamDecoder) State() SyncState {
	return d.parser.State()
}

// Timeout drops a stalled partial frame.
func (d *StreamDecoder) Timeout() {
	d.parser.Timeout()
}

// Link sends and receives frames over a byte stream.
type Link struct {
	ReadWriter io.ReadWriter
	Handler    FrameHandler
	Timeout    time.Duration
	Metrics    *metrics.Metrics

	lock    sync.Mutex
	decoder StreamDecoder
}

// DefaultLinkTimeout is the default inter-byte timeout.
const DefaultLinkTimeout = 100 * time.Millisecond

// NewLink creates a Link.
func NewLink(rw io.ReadWriter) *Link {
	return &Link{
		ReadWriter: rw,
		Timeout:    DefaultLinkTimeout,
	}
}

// SendFrame implements FrameSender.
func (l *Link) SendFrame(f *Frame) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if _, err := f.WriteTo(l.ReadWriter); err != nil {
		return err
	}
	if glog.V(2) {
		glog.Infof("TX %s", f)
	}
	return nil
}

// Run processes received bytes in the background.
func (l *Link) Run(ctx context.Context) error {
	l.decoder.Metrics = l.Metrics
	timeout := l.Timeout
	if timeout == 0 {
		timeout = DefaultLinkTimeout
	}
	chunkCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.readLoop(subCtx, chunkCh, errCh)

	var byteTimer <-chan time.Time
	for {
		select {
		case chunk := <-chunkCh:
			for _, frame := range l.decoder.Feed(chunk) {
				if glog.V(2) {
					glog.Infof("RX %s", frame)
				}
				if h := l.Handler; h != nil {
					h.HandleFrame(ctx, frame)
				}
			}
			switch (ParseResult{State: l.decoder.State()}).WhatAboutTimer() {
			case TimerRestart:
				byteTimer = time.After(timeout)
			case TimerStop:
				byteTimer = nil
			}
		case <-byteTimer:
			byteTimer = nil
			l.decoder.Timeout()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Link) readLoop(ctx context.Context, chunkCh chan []byte, errCh chan error) {
	buf := make([]byte, 64)
	for {
		n, err := l.ReadWriter.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close implements io.Closer.
func (l *Link) Close() error {
	if closer, ok := l.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
