// Package identity implements the identity driver: the device id and
// hardware revision flashed into the EEPROM at the factory.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/eeprom"
	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
)

// EEPROM keys.
const (
	KeyDeviceID    = "identity/device_id"
	KeyHardwareRev = "identity/hw_rev"
)

// MaxFieldLen limits the length of each flashed field.
const MaxFieldLen = 32

// Driver implements driver.Hooks.
type Driver struct {
	Store     eeprom.KV
	MachineID string

	deviceID    string
	hardwareRev string
}

// New creates the identity driver.
func New(store eeprom.KV, machineID string) *Driver {
	return &Driver{Store: store, MachineID: machineID}
}

// Flashed indicates both fields are set.
func (d *Driver) Flashed() bool {
	return d.deviceID != "" && d.hardwareRev != ""
}

// Startup implements driver.Hooks.
func (d *Driver) Startup(ctx context.Context, phase driver.Phase) error {
	if phase != driver.PhaseInit {
		return nil
	}
	var err error
	if d.deviceID, err = d.load(KeyDeviceID); err != nil {
		return err
	}
	if d.hardwareRev, err = d.load(KeyHardwareRev); err != nil {
		return err
	}
	if d.Flashed() {
		glog.Infof("identity: %s rev %s", d.deviceID, d.hardwareRev)
	} else {
		glog.Warning("identity: not flashed")
	}
	return nil
}

func (d *Driver) load(key string) (string, error) {
	v, err := d.Store.Get(key)
	if errors.Is(err, eeprom.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: load %s: %w", key, err)
	}
	return string(v), nil
}

// ProcessCommand implements driver.Hooks.
func (d *Driver) ProcessCommand(ctx context.Context, cmd driver.Command) error {
	switch p := cmd.Payload.(type) {
	case *comm.IdentityFlash:
		if p.DeviceID == "" || p.HardwareRev == "" ||
			len(p.DeviceID) > MaxFieldLen || len(p.HardwareRev) > MaxFieldLen {
			return comm.NackWrongParameter
		}
		err := d.Store.PutAll(
			eeprom.Entry{Key: KeyDeviceID, Value: []byte(p.DeviceID)},
			eeprom.Entry{Key: KeyHardwareRev, Value: []byte(p.HardwareRev)},
		)
		if err != nil {
			glog.Errorf("identity: %v", err)
			return comm.NackStorage
		}
		d.deviceID, d.hardwareRev = p.DeviceID, p.HardwareRev
		glog.Infof("identity: flashed %s rev %s", d.deviceID, d.hardwareRev)
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	case *comm.IdentityQuery:
		driver.RuntimeFrom(ctx).PushStatus()
		return nil
	default:
		return comm.NackUnknownDriverCommand
	}
}

// ReportStatus implements driver.Hooks.
func (d *Driver) ReportStatus(first bool) comm.Payload {
	return &comm.IdentityStatus{
		Initial:     first,
		DeviceID:    d.deviceID,
		HardwareRev: d.hardwareRev,
		MachineID:   d.MachineID,
		Flashed:     d.Flashed(),
	}
}
