// Package wifi implements the Wi-Fi configuration relay driver.
package wifi

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
)

// Credential limits.
const (
	MaxSSIDLen       = 32
	MinPassphraseLen = 8
	MaxPassphraseLen = 63
)

// Radio is the Wi-Fi module the credentials are relayed to.
type Radio interface {
	Join(ssid, passphrase string, security uint32) error
	Link() (connected bool, rssi int32)
}

// Driver implements driver.Hooks.
type Driver struct {
	Radio Radio

	ssid     string
	security uint32
}

// New creates the Wi-Fi driver.
func New(radio Radio) *Driver {
	return &Driver{Radio: radio}
}

// Validate checks a WifiConfig.
func Validate(cfg *comm.WifiConfig) error {
	if len(cfg.SSID) == 0 || len(cfg.SSID) > MaxSSIDLen {
		return comm.NackWrongParameter
	}
	switch cfg.Security {
	case comm.SecurityOpen:
		if cfg.Passphrase != "" {
			return comm.NackWrongParameter
		}
	case comm.SecurityWPA2, comm.SecurityWPA3:
		if n := len(cfg.Passphrase); n < MinPassphraseLen || n > MaxPassphraseLen {
			return comm.NackWrongParameter
		}
	default:
		return comm.NackWrongParameter
	}
	return nil
}

// Startup implements driver.Hooks.
func (d *Driver) Startup(ctx context.Context, phase driver.Phase) error {
	if phase == driver.PhaseInit && d.Radio == nil {
		return errors.New("wifi: no radio")
	}
	return nil
}

// ProcessCommand implements driver.Hooks.
func (d *Driver) ProcessCommand(ctx context.Context, cmd driver.Command) error {
	switch p := cmd.Payload.(type) {
	case *comm.WifiConfig:
		if err := Validate(p); err != nil {
			return err
		}
		if err := d.Radio.Join(p.SSID, p.Passphrase, p.Security); err != nil {
			glog.Errorf("wifi: join %q: %v", p.SSID, err)
			return comm.NackDeviceFault
		}
		d.ssid, d.security = p.SSID, p.Security
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	case *comm.WifiQuery:
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	default:
		return comm.NackUnknownDriverCommand
	}
}

// ReportStatus implements driver.Hooks.
func (d *Driver) ReportStatus(first bool) comm.Payload {
	connected, rssi := d.Radio.Link()
	return &comm.WifiStatus{
		Initial:   first,
		SSID:      d.ssid,
		Security:  d.security,
		Connected: connected,
		RSSI:      rssi,
	}
}

// SimRadio is a Radio for benches without hardware.
type SimRadio struct {
	lock      sync.Mutex
	JoinErr   error
	RSSI      int32
	connected bool
	ssid      string
}

// Join implements Radio.
func (r *SimRadio) Join(ssid, passphrase string, security uint32) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.JoinErr != nil {
		r.connected = false
		return r.JoinErr
	}
	r.ssid, r.connected = ssid, true
	if r.RSSI == 0 {
		r.RSSI = -60
	}
	return nil
}

// Link implements Radio.
func (r *SimRadio) Link() (bool, int32) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.connected {
		return false, 0
	}
	return true, r.RSSI
}
