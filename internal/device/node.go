// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package device is the device-management side of the tracker: the MQTT
// node that reports connectivity and publishes properties, and the
// hardware watchdog keep-alive.
package device

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Node publishes properties under one topic prefix, e.g.
// "devices/tracker-01/gps/<property>", and accepts writes to settable
// properties on "<prefix>/<property>/set".
type Node struct {
	client mqtt.Client
	topic  string
}

// Connect dials the broker and returns a node rooted at topic. The client
// reconnects on its own after the initial connection succeeds.
func Connect(broker, clientID, topic string) (*Node, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("mqtt: connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info().Str("broker", broker).Msg("mqtt: connected")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return &Node{client: client, topic: topic}, nil
}

// IsConnected reports whether the broker connection is currently up.
func (n *Node) IsConnected() bool {
	return n.client.IsConnectionOpen()
}

// Publish sends value as the retained state of property.
func (n *Node) Publish(property, value string) error {
	topic := n.topic + "/" + property
	token := n.client.Publish(topic, 0, true, value)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Settable registers handler for writes to property. When handler returns
// true the accepted value is published back as the property state.
func (n *Node) Settable(property string, handler func(value string) bool) error {
	topic := n.topic + "/" + property + "/set"
	token := n.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		value := string(msg.Payload())
		if !handler(value) {
			return
		}
		if err := n.Publish(property, value); err != nil {
			log.Error().Err(err).Str("property", property).Msg("mqtt: set echo failed")
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("mqtt: settable property registered")
	return nil
}

// Close disconnects from the broker.
func (n *Node) Close() {
	n.client.Disconnect(250)
}
