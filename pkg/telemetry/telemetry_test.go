package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/grinder/pkg/l0/comm"
)

type published struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

type recordingQueue struct {
	msgs []published
}

func (q *recordingQueue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	q.msgs = append(q.msgs, published{topic, payload, qos, retain})
	return &paho.DummyToken{}
}

func TestPublisher(t *testing.T) {
	q := &recordingQueue{}
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	p := NewPublisher(q, "m1")
	p.Now = func() time.Time { return at }

	p.ObserveStatus(comm.DriverMotor, &comm.MotorStatus{RPM: 1200, Running: true})
	require.Len(t, q.msgs, 1)
	msg := q.msgs[0]
	require.Equal(t, "m1/status/motor", msg.topic)
	require.True(t, msg.retain)
	require.Zero(t, msg.qos)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(msg.payload, &snap))
	require.Equal(t, "m1", snap.Device)
	require.Equal(t, "motor", snap.Driver)
	require.True(t, at.Equal(snap.At))
	require.JSONEq(t, `{"rpm":1200,"running":true}`, string(snap.Status))
}

func TestPublisherHidesPassphrase(t *testing.T) {
	body, err := json.Marshal(&comm.WifiConfig{SSID: "kitchen", Passphrase: "secret123"})
	require.NoError(t, err)
	require.NotContains(t, string(body), "secret123")
}

func TestStatusTopic(t *testing.T) {
	topic := StatusTopic("m1", comm.DriverTemperature)
	device, drv, ok := ParseStatusTopic(topic)
	require.True(t, ok)
	require.Equal(t, "m1", device)
	require.Equal(t, "temperature", drv)
	_, _, ok = ParseStatusTopic("m1/other/temperature")
	require.False(t, ok)
}

func TestMatchTopic(t *testing.T) {
	testCases := []struct {
		topic, filter string
		match         bool
	}{
		{"m1/status/motor", "m1/status/motor", true},
		{"m1/status/motor", "+/status/+", true},
		{"m1/status/motor", "#", true},
		{"m1/status/motor", "m1/#", true},
		{"m1/status/motor", "m1/status", false},
		{"m1/status", "m1/status/+", false},
		{"m1/status/motor", "m2/status/motor", false},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.match, MatchTopic(tc.topic, tc.filter), "%s ~ %s", tc.topic, tc.filter)
	}
}

func TestClientOptionsFromURL(t *testing.T) {
	opts, prefix, err := ClientOptionsFromURL("mqtt://u:p@broker:1883/grinder/", "m1")
	require.NoError(t, err)
	require.Equal(t, "grinder/", prefix)
	require.Len(t, opts.Servers, 1)
	require.Equal(t, "tcp://broker:1883", opts.Servers[0].String())
	require.Equal(t, "m1", opts.ClientID)
	require.Equal(t, "u", opts.Username)

	opts, _, err = ClientOptionsFromURL("ws://broker:9001/?client-id=bench", "m1")
	require.NoError(t, err)
	require.Equal(t, "bench", opts.ClientID)
	require.Equal(t, "ws://broker:9001", opts.Servers[0].String())
}
