// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Watchdog is kept alive by calling Ping before and after every
// operation that may block.
type Watchdog interface {
	Ping()
}

// NopWatchdog is used when no hardware watchdog is wired.
type NopWatchdog struct{}

func (NopWatchdog) Ping() {}

// GPIOWatchdog feeds an external watchdog by toggling a GPIO line on every
// Ping. The watchdog resets the board when the line stops changing.
type GPIOWatchdog struct {
	mu    sync.Mutex
	pin   gpio.PinIO
	level gpio.Level
}

// NewGPIOWatchdog claims pinName (e.g. "GPIO17") as an output.
func NewGPIOWatchdog(pinName string) (*GPIOWatchdog, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("watchdog: periph host init: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("watchdog: GPIO pin %q not found", pinName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("watchdog: GPIO %s output: %w", pinName, err)
	}

	log.Info().Str("pin", pinName).Msg("watchdog: GPIO keep-alive enabled")
	return &GPIOWatchdog{pin: pin, level: gpio.Low}, nil
}

// Ping flips the line.
func (w *GPIOWatchdog) Ping() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.level = !w.level
	if err := w.pin.Out(w.level); err != nil {
		log.Debug().Err(err).Msg("watchdog: GPIO toggle failed")
	}
}
