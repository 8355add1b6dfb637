package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/robotalks/grinder/pkg/env"
	"github.com/robotalks/grinder/pkg/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/grinder/"
)

func init() {
	if val := os.Getenv("GRINDER_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := telemetry.NewQueueFromURL(mqttURL, "grindermon-"+env.MachineID())
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.Connect(); err != nil {
		log.Fatalln(err)
	}

	q.Sub("#", telemetry.Handler(func(topic string, payload []byte) {
		device, driver, ok := telemetry.ParseStatusTopic(topic)
		if !ok {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		var snapshot telemetry.Snapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			log.Printf("%s: bad snapshot: %v", topic, err)
			return
		}
		log.Printf("%s [%s] %s %s", device, driver,
			snapshot.At.Format("15:04:05.000"), string(snapshot.Status))
	}))
	<-(chan struct{})(nil)
}
