// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/gps_uplink/internal/config"
	"github.com/relabs-tech/gps_uplink/internal/device"
	"github.com/relabs-tech/gps_uplink/internal/gps"
	"github.com/relabs-tech/gps_uplink/internal/queue"
	"github.com/relabs-tech/gps_uplink/internal/uplink"
)

// Centre of the simulated track.
const (
	simLat = 48.1173
	simLon = 11.5167
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// RunUplink opens the queue, the MQTT node, the watchdog and the GPS serial
// port, then runs capture, upload and metrics on their own tickers until
// SIGINT or SIGTERM.
func RunUplink(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Persistent queue ----
	q, err := queue.Open(cfg.QueuePath, queue.Options{
		MaxRecords:    cfg.QueueMaxRecords,
		BufferRecords: cfg.QueueBufferRecords,
		RecordLength:  cfg.RecordLength,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("queue: close failed")
		}
	}()

	// ---- 2) Device-management node ----
	node, err := device.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.NodeTopic())
	if err != nil {
		return err
	}
	defer node.Close()
	if err := node.Settable("clearData", clearDataHandler(q)); err != nil {
		return err
	}

	// ---- 3) Watchdog ----
	var wd device.Watchdog = device.NopWatchdog{}
	if cfg.WatchdogGPIO != "" {
		gw, err := device.NewGPIOWatchdog(cfg.WatchdogGPIO)
		if err != nil {
			return err
		}
		wd = gw
		log.Info().Str("pin", cfg.WatchdogGPIO).Msg("watchdog: gpio keep-alive enabled")
	}

	// ---- 4) GPS serial port ----
	var port io.ReadWriteCloser
	if cfg.GPSSerialPort == gps.SimulatorPort {
		port = gps.NewSimulator(simLat, simLon)
		log.Warn().Msg("gps: using simulated receiver")
	} else {
		port, err = gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate, ms(cfg.GPSReadTimeout))
		if err != nil {
			return err
		}
		log.Info().Str("port", cfg.GPSSerialPort).Int("baud", cfg.GPSBaudRate).Msg("gps: serial port opened")
	}
	defer port.Close()

	metrics := &uplink.Metrics{}
	upCfg := uplink.UploadConfig{
		Host:            cfg.UploadHost,
		Port:            cfg.UploadPort,
		Path:            cfg.UploadPath(),
		ChunkBytes:      cfg.UploadChunkBytes,
		MaxChunks:       cfg.UploadMaxChunks,
		RoundBudget:     ms(cfg.UploadRoundBudget),
		ResponseTimeout: ms(cfg.UploadResponseTimeout),
		ConnectTimeout:  ms(cfg.UploadConnectTimeout),
	}
	log.Info().Str("url", upCfg.URL()).Msg("upload: POST endpoint")

	s := &Scheduler{
		Capturer:   uplink.NewCapturer(gps.NewSentenceReader(port, cfg.RecordLength), q, node, node, wd, metrics),
		Uploader:   uplink.NewUploader(upCfg, q, wd, metrics),
		Reporter:   &uplink.Reporter{Queue: q, Metrics: metrics, Publisher: node, Network: node, Watchdog: wd},
		Queue:      q,
		Network:    node,
		MinSamples: cfg.UploadMinSamples,

		CaptureInterval: ms(cfg.CaptureInterval),
		UploadInterval:  ms(cfg.UploadCheckInterval),
		MetricsInterval: ms(cfg.MetricsInterval),
	}
	log.Info().Msg("gps: setup OK")

	err = s.Run(ctx)
	log.Info().Int("pending", q.Count()).Msg("gps: shutting down")
	if ferr := q.Flush(); ferr != nil {
		log.Error().Err(ferr).Msg("queue: final flush failed")
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// clearable is the part of the queue clearData needs.
type clearable interface {
	Count() int
	RemoveElements(n int) error
}

// clearDataHandler drops every queued record when "true" is written to
// the clearData property. It may run while an upload is in flight; the
// uploader removes by ID, so records pushed after the clear survive.
func clearDataHandler(q clearable) func(string) bool {
	return func(value string) bool {
		if value != "true" {
			return false
		}
		pending := q.Count()
		if err := q.RemoveElements(pending); err != nil {
			log.Error().Err(err).Msg("gps: clearing pending records failed")
			return false
		}
		log.Warn().Int("records", pending).Msg("gps: pending records cleared")
		return true
	}
}

// Scheduler runs the three uplink tasks on independent tickers. The queue
// and the metrics are the only state they share.
type Scheduler struct {
	Capturer   *uplink.Capturer
	Uploader   *uplink.Uploader
	Reporter   *uplink.Reporter
	Queue      uplink.Backlog
	Network    uplink.Connectivity
	MinSamples int

	CaptureInterval time.Duration
	UploadInterval  time.Duration
	MetricsInterval time.Duration
}

// uploadDue reports whether the backlog is worth a round.
func (s *Scheduler) uploadDue() bool {
	return s.Network.IsConnected() && s.Queue.Count() > s.MinSamples
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(ctx, s.CaptureInterval, func() {
			s.Capturer.Tick()
		})
	})
	g.Go(func() error {
		return every(ctx, s.UploadInterval, func() {
			if !s.uploadDue() {
				return
			}
			res := s.Uploader.Round(ctx)
			log.Info().
				Bool("attempted", res.Attempted).
				Int("chunks", res.Chunks).
				Int("records", res.Records).
				Int("removed", res.Removed).
				AnErr("reason", res.Err).
				Msg("upload: round done")
		})
	})
	g.Go(func() error {
		return every(ctx, s.MetricsInterval, func() {
			if err := s.Reporter.Report(); err != nil {
				log.Warn().Err(err).Msg("metrics: publish failed")
			}
		})
	})

	return g.Wait()
}

// every calls fn once per interval until ctx is done. A slow fn delays
// the next call rather than queueing ticks.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
