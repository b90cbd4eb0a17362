// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/gps_uplink/internal/app"
)

func main() {
	interval := pflag.DurationP("interval", "i", time.Second, "time between sentences")
	pflag.Parse()

	if err := app.SetupLogging("info"); err != nil {
		log.Fatal().Err(err).Msg("logging")
	}
	log.Info().Msg("starting gps uplink (simulated receiver console)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSimConsole(ctx, os.Stdout, *interval); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
