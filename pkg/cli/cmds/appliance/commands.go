package appliance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/grinder/pkg/cli/sh"
	"github.com/robotalks/grinder/pkg/l0/comm"
)

// SecurityByName maps the shell names of wifi security modes.
var SecurityByName = map[string]uint32{
	"open": comm.SecurityOpen,
	"wpa2": comm.SecurityWPA2,
	"wpa3": comm.SecurityWPA3,
}

func parseUint(name, val string) (uint32, error) {
	n, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("Invalid %s: %v", name, err)
	}
	return uint32(n), nil
}

// ParseIdentityFlash parses DEVICE_ID HW_REV.
func ParseIdentityFlash(args []string) (*comm.IdentityFlash, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("DEVICE_ID and HW_REV required")
	}
	return &comm.IdentityFlash{DeviceID: args[0], HardwareRev: args[1]}, nil
}

// ParseTemperatureConfig parses INTERVAL(ms) [THRESHOLD(0.1C)].
func ParseTemperatureConfig(args []string) (*comm.TemperatureConfig, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("INTERVAL required")
	}
	var msg comm.TemperatureConfig
	var err error
	if msg.IntervalMs, err = parseUint("INTERVAL", args[0]); err != nil {
		return nil, err
	}
	if len(args) > 1 {
		if msg.ThresholdDeciC, err = parseUint("THRESHOLD", args[1]); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// ParseWifiConfig parses SSID [PASSPHRASE [open|wpa2|wpa3]].
// Security defaults to wpa2 with a passphrase and open without.
func ParseWifiConfig(args []string) (*comm.WifiConfig, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("SSID required")
	}
	msg := &comm.WifiConfig{SSID: args[0], Security: comm.SecurityOpen}
	if len(args) > 1 {
		msg.Passphrase, msg.Security = args[1], comm.SecurityWPA2
	}
	if len(args) > 2 {
		sec, ok := SecurityByName[strings.ToLower(args[2])]
		if !ok {
			return nil, fmt.Errorf("Invalid SECURITY: %q", args[2])
		}
		msg.Security = sec
	}
	return msg, nil
}

// ParseMotorRun parses RPM [f|r] [DURATION(ms)].
func ParseMotorRun(args []string) (*comm.MotorRun, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("RPM required")
	}
	var msg comm.MotorRun
	var err error
	if msg.RPM, err = parseUint("RPM", args[0]); err != nil {
		return nil, err
	}
	if len(args) > 1 {
		switch strings.ToLower(args[1]) {
		case "f", "fwd", "forward":
		case "r", "rev", "reverse":
			msg.Reverse = true
		default:
			return nil, fmt.Errorf("Invalid DIRECTION: %q", args[1])
		}
	}
	if len(args) > 2 {
		if msg.DurationMs, err = parseUint("DURATION", args[2]); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func parsedCmd(driver comm.DriverID, parse func([]string) (comm.Payload, error)) func(c *ishell.Context) {
	return sh.MustBeConnected(func(c *ishell.Context) {
		msg, err := parse(c.Args)
		if err != nil {
			c.Err(err)
			return
		}
		sh.DoCommand(c, driver, msg)
	})
}

func simpleCmd(driver comm.DriverID, msg comm.Payload) func(c *ishell.Context) {
	return sh.MustBeConnected(func(c *ishell.Context) {
		sh.DoCommand(c, driver, msg)
	})
}

var (
	// IdentityFlashCmd exposes IdentityFlash command.
	IdentityFlashCmd = ishell.Cmd{
		Name:    "identity.flash",
		Aliases: []string{"idf"},
		Help:    "DEVICE_ID HW_REV",
		Func: parsedCmd(comm.DriverIdentity, func(args []string) (comm.Payload, error) {
			return ParseIdentityFlash(args)
		}),
	}

	// IdentityQueryCmd exposes IdentityQuery command.
	IdentityQueryCmd = ishell.Cmd{
		Name:    "identity.query",
		Aliases: []string{"idq"},
		Help:    "",
		Func:    simpleCmd(comm.DriverIdentity, &comm.IdentityQuery{}),
	}

	// TemperatureConfigCmd exposes TemperatureConfig command.
	TemperatureConfigCmd = ishell.Cmd{
		Name:    "temp.config",
		Aliases: []string{"tc"},
		Help:    "INTERVAL(ms) [THRESHOLD(0.1C)]",
		Func: parsedCmd(comm.DriverTemperature, func(args []string) (comm.Payload, error) {
			return ParseTemperatureConfig(args)
		}),
	}

	// TemperatureQueryCmd exposes TemperatureQuery command.
	TemperatureQueryCmd = ishell.Cmd{
		Name:    "temp.query",
		Aliases: []string{"tq"},
		Help:    "",
		Func:    simpleCmd(comm.DriverTemperature, &comm.TemperatureQuery{}),
	}

	// WifiConfigCmd exposes WifiConfig command.
	WifiConfigCmd = ishell.Cmd{
		Name:    "wifi.config",
		Aliases: []string{"wc"},
		Help:    "SSID [PASSPHRASE [open|wpa2|wpa3]]",
		Func: parsedCmd(comm.DriverWifi, func(args []string) (comm.Payload, error) {
			return ParseWifiConfig(args)
		}),
	}

	// WifiQueryCmd exposes WifiQuery command.
	WifiQueryCmd = ishell.Cmd{
		Name:    "wifi.query",
		Aliases: []string{"wq"},
		Help:    "",
		Func:    simpleCmd(comm.DriverWifi, &comm.WifiQuery{}),
	}

	// MotorRunCmd exposes MotorRun command.
	MotorRunCmd = ishell.Cmd{
		Name:    "motor.run",
		Aliases: []string{"mr"},
		Help:    "RPM [f|r] [DURATION(ms)]",
		Func: parsedCmd(comm.DriverMotor, func(args []string) (comm.Payload, error) {
			return ParseMotorRun(args)
		}),
	}

	// MotorStopCmd exposes MotorStop command.
	MotorStopCmd = ishell.Cmd{
		Name:    "motor.stop",
		Aliases: []string{"ms"},
		Help:    "",
		Func:    simpleCmd(comm.DriverMotor, &comm.MotorStop{}),
	}
)

func init() {
	sh.AddCmds(
		&IdentityFlashCmd,
		&IdentityQueryCmd,
		&TemperatureConfigCmd,
		&TemperatureQueryCmd,
		&WifiConfigCmd,
		&WifiQueryCmd,
		&MotorRunCmd,
		&MotorStopCmd,
	)
}
