package motor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultReplyTimeout bounds the wait for a controller reply.
const DefaultReplyTimeout = 500 * time.Millisecond

// ErrNoReply is returned when the controller doesn't answer in time.
var ErrNoReply = errors.New("motor controller not responding")

// LinePort talks to the motor controller over its serial line with
// newline terminated text commands:
//
//	RUN <rpm> F|R  -> OK | ERR <reason>
//	STOP           -> OK | ERR <reason>
//
// Replies are read by a background goroutine so a silent controller
// fails the command after Timeout instead of blocking the motor task.
type LinePort struct {
	Timeout time.Duration

	rw      io.ReadWriter
	lock    sync.Mutex
	start   sync.Once
	lines   chan string
	readErr error
}

// NewLinePort creates a LinePort.
func NewLinePort(rw io.ReadWriter) *LinePort {
	return &LinePort{
		Timeout: DefaultReplyTimeout,
		rw:      rw,
		lines:   make(chan string, 1),
	}
}

// Run implements Port.
func (p *LinePort) Run(rpm uint32, reverse bool) error {
	dir := "F"
	if reverse {
		dir = "R"
	}
	return p.exec(fmt.Sprintf("RUN %d %s", rpm, dir))
}

// Stop implements Port.
func (p *LinePort) Stop() error {
	return p.exec("STOP")
}

func (p *LinePort) readLoop() {
	defer close(p.lines)
	reader := bufio.NewReader(p.rw)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			p.readErr = err
			return
		}
		p.lines <- strings.TrimSpace(line)
	}
}

// drain drops replies that arrived after their command timed out.
func (p *LinePort) drain() error {
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return fmt.Errorf("motor port read: %w", p.readErr)
			}
			glog.Warningf("motor: late reply %q dropped", line)
		default:
			return nil
		}
	}
}

func (p *LinePort) exec(cmd string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.start.Do(func() { go p.readLoop() })
	if err := p.drain(); err != nil {
		return err
	}
	if _, err := io.WriteString(p.rw, cmd+"\n"); err != nil {
		return fmt.Errorf("motor port write: %w", err)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var line string
	select {
	case l, ok := <-p.lines:
		if !ok {
			return fmt.Errorf("motor port read: %w", p.readErr)
		}
		line = l
	case <-timer.C:
		return fmt.Errorf("%s: %w", cmd, ErrNoReply)
	}
	switch {
	case line == "OK":
		return nil
	case strings.HasPrefix(line, "ERR"):
		return errors.New(strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	default:
		return fmt.Errorf("motor port: unexpected reply %q", line)
	}
}

// SimPort is a Port for benches without hardware.
type SimPort struct {
	lock    sync.Mutex
	Err     error
	RPM     uint32
	Reverse bool
	Running bool
}

// Run implements Port.
func (s *SimPort) Run(rpm uint32, reverse bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.RPM, s.Reverse, s.Running = rpm, reverse, true
	return nil
}

// Stop implements Port.
func (s *SimPort) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.RPM, s.Running = 0, false
	return nil
}

// IsRunning reports whether the simulated motor spins.
func (s *SimPort) IsRunning() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Running
}
