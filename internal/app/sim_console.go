// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/gps_uplink/internal/gps"
)

// RunSimConsole prints the simulated receiver's sentences once per
// interval until ctx is done, alternating GGA and RMC like the capture
// task does.
func RunSimConsole(ctx context.Context, out io.Writer, interval time.Duration) error {
	reader := gps.NewSentenceReader(gps.NewSimulator(simLat, simLon), 100)
	kind := gps.GGA
	return every(ctx, interval, func() {
		rec, err := reader.Next(kind)
		if err != nil {
			fmt.Fprintf(out, "[%s] error: %v\n", kind, err)
		} else {
			fmt.Fprintf(out, "[%s] %s\n", kind, rec)
		}
		kind = kind.Next()
	})
}
