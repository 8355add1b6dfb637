// Package connector sets up the host controller side of the link.
package connector

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robotalks/grinder/pkg/framework"
	"github.com/robotalks/grinder/pkg/host"
	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/reliable"
	"github.com/robotalks/grinder/pkg/transport"
)

// Config provides common options to connect an appliance.
type Config struct {
	// LinkURL is the appliance link, see package transport.
	LinkURL    string
	AckTimeout time.Duration
	MaxRetries int
}

var defaultConfig = Config{
	LinkURL:    "tcp://localhost:7700",
	AckTimeout: host.DefaultConfig().AckTimeout,
	MaxRetries: host.DefaultConfig().MaxRetries,
}

func init() {
	if val := os.Getenv("GRINDER_CONNECT"); val != "" {
		defaultConfig.LinkURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.LinkURL, "link", defaultConfig.LinkURL, "Appliance link URL.")
	flag.DurationVar(&defaultConfig.AckTimeout, "ack-timeout", defaultConfig.AckTimeout, "Command ack timeout.")
	flag.IntVar(&defaultConfig.MaxRetries, "retries", defaultConfig.MaxRetries, "Command retries.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Session is a connected host controller.
type Session struct {
	*framework.Runner
	Controller *host.Controller
	Link       *comm.Link

	conn io.Closer
}

// Connect dials the appliance and starts the controller on runner.
func (c *Config) Connect(runner *framework.Runner) (*Session, error) {
	if c.LinkURL == "" {
		return nil, fmt.Errorf("link URL must be specified")
	}
	if err := reliable.ValidateMaxRetries(c.MaxRetries); err != nil {
		return nil, err
	}
	conn, err := transport.Dial(c.LinkURL)
	if err != nil {
		return nil, err
	}
	s := &Session{Runner: runner, Link: comm.NewLink(conn), conn: conn}
	s.Controller = host.NewController(s.Link, host.Config{
		AckTimeout: c.AckTimeout,
		MaxRetries: c.MaxRetries,
	})
	s.Link.Handler = s.Controller
	runner.Go(
		framework.NamedRun("link", s.Link),
		framework.NamedRun("controller", s.Controller),
	)
	return s, nil
}

// MustConnect connects the appliance or fails.
func (c *Config) MustConnect(runner *framework.Runner) *Session {
	s, err := c.Connect(runner)
	if err != nil {
		log.Fatalln(err)
	}
	return s
}

// Close closes the link connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
