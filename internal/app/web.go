// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/gps_uplink/internal/gps"
)

// FixBoard keeps the latest live fix of every tracker seen on the broker.
type FixBoard struct {
	mu    sync.RWMutex
	fixes map[string]gps.Fix
}

func NewFixBoard() *FixBoard {
	return &FixBoard{fixes: make(map[string]gps.Fix)}
}

// Update stores the fix published on topic ("<root><device>/gps/fix").
func (b *FixBoard) Update(topic string, payload []byte) error {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return fmt.Errorf("fix payload on %s: %w", topic, err)
	}
	device := strings.TrimSuffix(topic, "/gps/fix")
	if i := strings.LastIndexByte(device, '/'); i >= 0 {
		device = device[i+1:]
	}

	b.mu.Lock()
	b.fixes[device] = f
	b.mu.Unlock()
	return nil
}

func (b *FixBoard) handleFixes(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.fixes) == 0 {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	render.JSON(w, r, b.fixes)
}

// Subscribe feeds the board from every tracker under topicRoot.
func (b *FixBoard) Subscribe(broker, clientID, topicRoot string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Info().Str("broker", broker).Msg("collector: connected to MQTT broker")

	filter := topicRoot + "+/gps/fix"
	token := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.Update(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Msg("collector: fix update error")
		}
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(250)
		return nil, token.Error()
	}
	log.Info().Str("topic", filter).Msg("collector: subscribed to live fixes")
	return client, nil
}
