// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/gps_uplink/internal/gps"
	"github.com/relabs-tech/gps_uplink/internal/retry"
)

// CaptureAttempts is how many reads one tick may spend on its sentence.
const CaptureAttempts = 3

// Capturer is the acquisition state machine. Each Tick tries to capture
// one sentence, alternating GGA and RMC, and queues it once its checksum
// holds.
type Capturer struct {
	source  SentenceSource
	queue   RecordQueue
	live    Publisher
	network Connectivity
	wd      Watchdog
	metrics *Metrics

	next gps.Kind
}

// NewCapturer starts in the await-GGA state.
func NewCapturer(source SentenceSource, queue RecordQueue, live Publisher, network Connectivity, wd Watchdog, metrics *Metrics) *Capturer {
	return &Capturer{
		source:  source,
		queue:   queue,
		live:    live,
		network: network,
		wd:      wd,
		metrics: metrics,
		next:    gps.GGA,
	}
}

// awaiting is the sentence kind the next Tick will read.
func (c *Capturer) awaiting() gps.Kind { return c.next }

// Tick runs one acquisition step and returns the captured record. A tick
// that fails after all attempts returns the last record seen and an error.
// Either way the state advances to the other sentence kind.
func (c *Capturer) Tick() (string, error) {
	kind := c.next
	c.next = kind.Next()

	c.wd.Ping()
	record, err := retry.Do(CaptureAttempts, func(int) (string, error) {
		rec, err := c.source.Next(kind)
		c.wd.Ping()
		if err != nil {
			return rec, err
		}
		if !gps.ValidChecksum(rec) {
			return rec, gps.ErrChecksum
		}
		return rec, nil
	})
	if err != nil {
		c.metrics.RecordsReadError.Add(1)
		log.Warn().Err(err).Str("kind", kind.String()).Str("record", record).Msg("gps: read error")
		return record, fmt.Errorf("capture %s: %w", kind, err)
	}

	if err := c.queue.Push(record); err != nil {
		c.metrics.RecordsReadError.Add(1)
		log.Error().Err(err).Msg("gps: record not stored")
		return record, fmt.Errorf("capture %s: %w", kind, err)
	}
	c.metrics.RecordsReadSuccess.Add(1)
	log.Debug().Int("pending", c.queue.Count()).Str("kind", kind.String()).Msg("gps: record stored")

	if c.network.IsConnected() {
		c.publishLive(kind, record)
	}
	return record, nil
}

// publishLive is the low-latency side channel. It duplicates queued data
// on a best-effort basis and never affects the queue.
func (c *Capturer) publishLive(kind gps.Kind, record string) {
	c.wd.Ping()
	if err := c.live.Publish(kind.Property(), record); err != nil {
		log.Warn().Err(err).Str("kind", kind.String()).Msg("gps: live publish failed")
		return
	}

	fix, err := gps.DecodeFix(record)
	if err != nil {
		log.Debug().Err(err).Msg("gps: live fix not decoded")
		return
	}
	payload, err := json.Marshal(fix)
	if err != nil {
		log.Warn().Err(err).Msg("gps: fix marshal error")
		return
	}
	if err := c.live.Publish("fix", string(payload)); err != nil {
		log.Warn().Err(err).Msg("gps: live fix publish failed")
	}
}
