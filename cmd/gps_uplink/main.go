// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/gps_uplink/internal/app"
	"github.com/relabs-tech/gps_uplink/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "uplink_config.txt", "path to the KEY=VALUE config file")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	if err := app.SetupLogging(*logLevel); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	log.Info().Msg("starting gps uplink (NMEA → queue → HTTP)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	if err := app.RunUplink(config.Get()); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
