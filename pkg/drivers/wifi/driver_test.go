package wifi

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/grinder/pkg/l0/comm"
	"github.com/robotalks/grinder/pkg/l0/driver"
	"github.com/robotalks/grinder/pkg/l0/driver/drivertest"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  comm.WifiConfig
		ok   bool
	}{
		{"wpa2", comm.WifiConfig{SSID: "kitchen", Passphrase: "12345678", Security: comm.SecurityWPA2}, true},
		{"wpa3 max", comm.WifiConfig{SSID: strings.Repeat("s", 32), Passphrase: strings.Repeat("p", 63), Security: comm.SecurityWPA3}, true},
		{"open", comm.WifiConfig{SSID: "guest", Security: comm.SecurityOpen}, true},
		{"no ssid", comm.WifiConfig{Passphrase: "12345678", Security: comm.SecurityWPA2}, false},
		{"long ssid", comm.WifiConfig{SSID: strings.Repeat("s", 33), Passphrase: "12345678", Security: comm.SecurityWPA2}, false},
		{"short passphrase", comm.WifiConfig{SSID: "kitchen", Passphrase: "1234567", Security: comm.SecurityWPA2}, false},
		{"long passphrase", comm.WifiConfig{SSID: "kitchen", Passphrase: strings.Repeat("p", 64), Security: comm.SecurityWPA3}, false},
		{"open with passphrase", comm.WifiConfig{SSID: "guest", Passphrase: "12345678", Security: comm.SecurityOpen}, false},
		{"unknown security", comm.WifiConfig{SSID: "kitchen", Passphrase: "12345678", Security: 7}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			if tc.ok {
				require.NoError(t, Validate(&cfg))
			} else {
				require.Equal(t, comm.NackWrongParameter, Validate(&cfg))
			}
		})
	}
}

func TestConfigJoins(t *testing.T) {
	radio := &SimRadio{RSSI: -55}
	d := New(radio)
	rt := drivertest.New(comm.DriverWifi)
	require.NoError(t, d.Startup(rt.Context(), driver.PhaseInit))
	require.Equal(t, &comm.WifiStatus{Initial: true}, d.ReportStatus(true))

	cfg := &comm.WifiConfig{SSID: "kitchen", Passphrase: "correct horse", Security: comm.SecurityWPA2}
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(1, cfg)))
	require.Equal(t, 1, rt.Pushes())
	require.Equal(t, &comm.WifiStatus{SSID: "kitchen", Security: comm.SecurityWPA2, Connected: true, RSSI: -55}, d.ReportStatus(false))
}

func TestRadioFault(t *testing.T) {
	d := New(&SimRadio{JoinErr: errors.New("module not responding")})
	rt := drivertest.New(comm.DriverWifi)
	cfg := &comm.WifiConfig{SSID: "kitchen", Passphrase: "correct horse", Security: comm.SecurityWPA2}
	require.Equal(t, comm.NackDeviceFault, d.ProcessCommand(rt.Context(), rt.Command(1, cfg)))
	require.Zero(t, rt.Pushes())
	require.Equal(t, "", d.ReportStatus(false).(*comm.WifiStatus).SSID)
}

func TestQueryAndUnknown(t *testing.T) {
	d := New(&SimRadio{})
	rt := drivertest.New(comm.DriverWifi)
	require.NoError(t, d.ProcessCommand(rt.Context(), rt.Command(1, &comm.WifiQuery{})))
	require.Equal(t, 1, rt.Pushes())
	require.Equal(t, comm.NackUnknownDriverCommand, d.ProcessCommand(rt.Context(), rt.Command(2, &comm.IdentityQuery{})))
	require.Error(t, New(nil).Startup(rt.Context(), driver.PhaseInit))
}
