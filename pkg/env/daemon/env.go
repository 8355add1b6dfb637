// Package daemon sets up the appliance side: the link, the driver tasks and
// the optional telemetry and metrics endpoints.
package daemon

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/drivers/identity"
	"github.com/robotalks/grinder/pkg/drivers/motor"
	"github.com/robotalks/grinder/pkg/drivers/temperature"
	"github.com/robotalks/grinder/pkg/drivers/wifi"
	"github.com/robotalks/grinder/pkg/eeprom"
	"github.com/robotalks/grinder/pkg/env"
	"github.com/robotalks/grinder/pkg/framework"
	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/dispatch"
	"github.com/robotalks/grinder/pkg/l0/driver"
	"github.com/robotalks/grinder/pkg/l0/reliable"
	"github.com/robotalks/grinder/pkg/metrics"
	"github.com/robotalks/grinder/pkg/telemetry"
	"github.com/robotalks/grinder/pkg/transport"
)

// Config provides options to set up the appliance.
type Config struct {
	// LinkURL is the host controller link, see package transport.
	LinkURL string

	// MotorURL is the motor controller line, a simulated motor if empty.
	MotorURL string

	// MQTTBrokerURL enables status telemetry when set.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string

	// EEPROMDir is where identity persists, in-memory if empty.
	EEPROMDir string

	// MetricsAddr enables the /metrics endpoint when set.
	MetricsAddr string

	MachineID      string
	AckTimeout     time.Duration
	MaxRetries     int
	InboxSize      int
	StatusInterval time.Duration
}

var defaultConfig = Config{
	LinkURL:    "tcp+listen://:7700",
	AckTimeout: driver.DefaultConfig().AckTimeout,
	MaxRetries: driver.DefaultConfig().MaxRetries,
	InboxSize:  driver.DefaultInboxSize,
}

func init() {
	if val := os.Getenv("GRINDER_LINK"); val != "" {
		defaultConfig.LinkURL = val
	}
	if val := os.Getenv("GRINDER_MOTOR_URL"); val != "" {
		defaultConfig.MotorURL = val
	}
	if val := os.Getenv("GRINDER_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("GRINDER_EEPROM_DIR"); val != "" {
		defaultConfig.EEPROMDir = val
	}
	if val := os.Getenv("GRINDER_METRICS_ADDR"); val != "" {
		defaultConfig.MetricsAddr = val
	}
	if val := os.Getenv("GRINDER_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			defaultConfig.MaxRetries = n
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.LinkURL, "link", defaultConfig.LinkURL, "Host controller link URL.")
	flag.StringVar(&defaultConfig.MotorURL, "motor", defaultConfig.MotorURL, "Motor controller URL, simulated if empty.")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for telemetry.")
	flag.StringVar(&defaultConfig.EEPROMDir, "eeprom", defaultConfig.EEPROMDir, "EEPROM directory, in-memory if empty.")
	flag.StringVar(&defaultConfig.MetricsAddr, "metrics", defaultConfig.MetricsAddr, "Metrics listen address.")
	flag.StringVar(&defaultConfig.MachineID, "id", defaultConfig.MachineID, "Machine ID, detected if empty.")
	flag.DurationVar(&defaultConfig.AckTimeout, "ack-timeout", defaultConfig.AckTimeout, "Status report ack timeout.")
	flag.IntVar(&defaultConfig.MaxRetries, "retries", defaultConfig.MaxRetries, "Status report retries.")
	flag.IntVar(&defaultConfig.InboxSize, "inbox", defaultConfig.InboxSize, "Driver inbox size.")
	flag.DurationVar(&defaultConfig.StatusInterval, "status-interval", defaultConfig.StatusInterval, "Periodic status interval, 0 disables.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Env is the running appliance.
type Env struct {
	Config     *Config
	Metrics    *metrics.Metrics
	Store      *eeprom.Store
	Queue      *telemetry.Queue
	Dispatcher *dispatch.Dispatcher
	Link       *comm.Link
	Tasks      []*driver.Task

	closers []io.Closer
}

// NewEnv creates Env from config. It waits for the peer when the link
// URL listens.
func (c *Config) NewEnv(ctx context.Context) (e *Env, err error) {
	if c.LinkURL == "" {
		return nil, fmt.Errorf("link URL must be specified")
	}
	if err := reliable.ValidateMaxRetries(c.MaxRetries); err != nil {
		return nil, err
	}
	machineID := c.MachineID
	if machineID == "" {
		machineID = env.MachineID()
	}
	e = &Env{
		Config:     c,
		Metrics:    metrics.NewMetrics(),
		Dispatcher: dispatch.New(),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()
	e.Dispatcher.Metrics = e.Metrics

	if e.Store, err = eeprom.Open(c.EEPROMDir); err != nil {
		return nil, fmt.Errorf("open eeprom: %w", err)
	}
	e.closers = append(e.closers, e.Store)

	var observer driver.StatusObserver
	if c.MQTTBrokerURL != "" {
		if e.Queue, err = telemetry.NewQueueFromURL(c.MQTTBrokerURL, "grinderd-"+machineID); err != nil {
			return nil, fmt.Errorf("invalid MQTT URL: %w", err)
		}
		if err = e.Queue.Connect(); err != nil {
			return nil, fmt.Errorf("connect MQTT: %w", err)
		}
		e.closers = append(e.closers, e.Queue)
		observer = telemetry.NewPublisher(e.Queue, machineID)
	}

	var port motor.Port = &motor.SimPort{}
	if c.MotorURL != "" {
		conn, err := transport.Dial(c.MotorURL)
		if err != nil {
			return nil, fmt.Errorf("open motor: %w", err)
		}
		e.closers = append(e.closers, conn)
		port = motor.NewLinePort(conn)
	}

	glog.Infof("waiting for link %s", c.LinkURL)
	conn, err := transport.Open(ctx, c.LinkURL)
	if err != nil {
		return nil, fmt.Errorf("open link: %w", err)
	}
	e.closers = append(e.closers, conn)
	e.Link = comm.NewLink(conn)
	e.Link.Metrics = e.Metrics
	e.Link.Handler = e.Dispatcher

	taskConf := driver.Config{
		InboxSize:      c.InboxSize,
		StatusInterval: c.StatusInterval,
		AckTimeout:     c.AckTimeout,
		MaxRetries:     c.MaxRetries,
		Observer:       observer,
		Metrics:        e.Metrics,
	}
	counters := comm.NewCounterSource(1)
	newTask := func(id comm.DriverID, hooks driver.Hooks) {
		e.Tasks = append(e.Tasks, driver.NewTask(id, hooks, e.Link, counters, taskConf))
	}
	newTask(comm.DriverIdentity, identity.New(e.Store, machineID))
	newTask(comm.DriverTemperature, temperature.New(temperature.NewSimSensor(215)))
	newTask(comm.DriverWifi, wifi.New(&wifi.SimRadio{}))
	newTask(comm.DriverMotor, motor.New(port))
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv(ctx context.Context) *Env {
	e, err := c.NewEnv(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	return e
}

// Run boots the drivers and runs until ctx is done or the link fails.
func (e *Env) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := framework.NewRunnerWith(ctx)
	runner.Go(framework.NamedRun("link", framework.RunnableFunc(func(ctx context.Context) error {
		// a broken link stops the appliance.
		defer cancel()
		return e.Link.Run(ctx)
	})))
	if addr := e.Config.MetricsAddr; addr != "" {
		runner.Go(framework.NamedRun("metrics", framework.RunnableFunc(func(ctx context.Context) error {
			return e.Metrics.Serve(ctx, addr)
		})))
	}
	if err := driver.Boot(ctx, e.Dispatcher, runner, e.Tasks...); err != nil {
		glog.Errorf("some drivers failed to boot: %v", err)
	}
	return runner.Wait()
}

// Close releases the link, the store and the telemetry connection.
func (e *Env) Close() error {
	var errs framework.AggregatedError
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs.Add(e.closers[i].Close())
	}
	e.closers = nil
	return errs.Aggregate()
}
