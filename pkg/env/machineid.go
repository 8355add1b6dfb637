// Package env provides the shared bits of binary configuration.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID keys the protected machine id so the raw id never leaves the box.
const AppID = "grinder"

// MachineID retrieves the unique ID identifying the machine.
// It falls back to the hostname where no machine id is available.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil {
		return id
	}
	glog.Warningf("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
