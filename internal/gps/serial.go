// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens the GPS serial port in non-blocking-ish mode: a read
// returns whatever arrived once the line has been quiet for readTimeout,
// so a stalled receiver yields short reads instead of hanging forever.
func OpenSerial(portName string, baudRate int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	// NOTE: the driver rounds the inter-character timeout to 100ms steps.
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: uint(readTimeout / time.Millisecond),
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open GPS serial port %s: %w", portName, err)
	}
	return port, nil
}
