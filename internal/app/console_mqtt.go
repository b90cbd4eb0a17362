// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/gps_uplink/internal/gps"
)

// consolePrinter formats the tracker's live and metrics properties.
type consolePrinter struct {
	out   io.Writer
	topic string // node topic, e.g. "devices/tracker-01/gps"
}

// print writes one line for a message on topic. Unknown properties are
// ignored.
func (p *consolePrinter) print(topic string, payload []byte) {
	property := strings.TrimPrefix(topic, p.topic+"/")
	switch {
	case property == "gga" || property == "rmc":
		fmt.Fprintf(p.out, "[%s ] %s\n", strings.ToUpper(property), payload)
	case property == "fix":
		var f gps.Fix
		if err := json.Unmarshal(payload, &f); err != nil {
			log.Warn().Err(err).Msg("console: fix unmarshal error")
			return
		}
		fmt.Fprintf(p.out,
			"[FIX ] %s time=%s lat=%.6f lon=%.6f alt=%.1fm sats=%d speed=%.1fkn course=%.1f° validity=%s\n",
			f.Kind, f.Time, f.Latitude, f.Longitude, f.AltitudeM, f.Satellites, f.SpeedKnots, f.CourseDeg, f.Validity,
		)
	case strings.HasPrefix(property, "total"):
		fmt.Fprintf(p.out, "[STAT] %-26s %s\n", property, payload)
	case property == "clearData":
		fmt.Fprintf(p.out, "[CMD ] clearData=%s\n", payload)
	}
}

// RunConsoleMQTT subscribes to every property of the node at topic and
// prints them until SIGINT or SIGTERM.
func RunConsoleMQTT(broker, clientID, topic string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("broker", broker).Msg("console: connected to MQTT broker")

	p := &consolePrinter{out: os.Stdout, topic: topic}
	filter := topic + "/+"
	token := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		p.print(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("topic", filter).Msg("console: subscribed")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("console: shutting down")
	client.Disconnect(250)
	return nil
}
