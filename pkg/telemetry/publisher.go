package telemetry

import (
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/grinder/pkg/l0/comm"
)

// Publishing is the publish side of Queue.
type Publishing interface {
	PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token
}

// Snapshot is the JSON document published for every status report.
type Snapshot struct {
	Device string          `json:"device"`
	Driver string          `json:"driver"`
	At     time.Time       `json:"at"`
	Status json.RawMessage `json:"status"`
}

// StatusTopic is the topic a driver's snapshots are published on.
func StatusTopic(device string, driver comm.DriverID) string {
	return device + "/status/" + driver.String()
}

// ParseStatusTopic splits a topic built by StatusTopic.
func ParseStatusTopic(topic string) (device, driver string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] != "status" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// Publisher implements driver.StatusObserver.
type Publisher struct {
	Queue  Publishing
	Device string
	Now    func() time.Time
}

// NewPublisher creates a Publisher for device.
func NewPublisher(q Publishing, device string) *Publisher {
	return &Publisher{Queue: q, Device: device, Now: time.Now}
}

// ObserveStatus implements driver.StatusObserver. Snapshots are retained
// so a late monitor sees the last state of every driver.
func (p *Publisher) ObserveStatus(driver comm.DriverID, status comm.Payload) {
	body, err := json.Marshal(status)
	if err != nil {
		glog.Errorf("telemetry: encode %s status: %v", driver, err)
		return
	}
	data, err := json.Marshal(&Snapshot{
		Device: p.Device,
		Driver: driver.String(),
		At:     p.Now().UTC(),
		Status: body,
	})
	if err != nil {
		glog.Errorf("telemetry: encode %s snapshot: %v", driver, err)
		return
	}
	p.Queue.PubWith(StatusTopic(p.Device, driver), data, 0, true)
}
