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
	port := pflag.IntP("port", "p", config.Defaults().CollectorPort, "listen port")
	reject := pflag.Bool("reject", false, "answer every batch with 500")
	broker := pflag.String("broker", "", "MQTT broker URL for the live fix board (disabled when empty)")
	topicRoot := pflag.String("topic-root", config.Defaults().TopicRoot, "topic root the trackers publish under")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	if err := app.SetupLogging(*logLevel); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	log.Info().Msg("starting gps uplink dev collector")

	if err := app.RunCollector(*port, *reject, *broker, *topicRoot); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
