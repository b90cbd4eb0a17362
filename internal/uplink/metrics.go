// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics are the cumulative counters of the capture and upload tasks.
// They only ever grow; published values are totals since boot. All fields
// are safe for concurrent use.
type Metrics struct {
	RecordsReadSuccess atomic.Uint64
	RecordsReadError   atomic.Uint64

	UploadCountSuccess   atomic.Uint64
	UploadBytesSuccess   atomic.Uint64
	UploadTimeSuccess    atomic.Uint64 // milliseconds
	UploadRecordsSuccess atomic.Uint64

	UploadCountError atomic.Uint64
	UploadBytesError atomic.Uint64
	UploadTimeError  atomic.Uint64 // milliseconds

	// UploadRecordCRCError counts queued records dropped because they
	// failed checksum re-validation at upload time.
	UploadRecordCRCError atomic.Uint64
}

func (m *Metrics) uploadSucceeded(bytes, records int, elapsed time.Duration) {
	m.UploadCountSuccess.Add(1)
	m.UploadBytesSuccess.Add(uint64(bytes))
	m.UploadTimeSuccess.Add(uint64(elapsed.Milliseconds()))
	m.UploadRecordsSuccess.Add(uint64(records))
}

func (m *Metrics) uploadFailed(bytes int, elapsed time.Duration) {
	m.UploadCountError.Add(1)
	m.UploadBytesError.Add(uint64(bytes))
	m.UploadTimeError.Add(uint64(elapsed.Milliseconds()))
}

// Snapshot is a point-in-time copy of Metrics plus the queue backlog.
type Snapshot struct {
	RecordsReadSuccess   uint64
	RecordsReadError     uint64
	UploadCountSuccess   uint64
	UploadBytesSuccess   uint64
	UploadTimeSuccess    uint64
	UploadRecordsSuccess uint64
	UploadCountError     uint64
	UploadBytesError     uint64
	UploadTimeError      uint64
	UploadRecordCRCError uint64
	RecordsPendingUpload int
	// RecordsEvicted counts records the queue dropped while full.
	RecordsEvicted uint64
}

// Snapshot reads every counter. pending is the current queue backlog.
func (m *Metrics) Snapshot(pending int) Snapshot {
	return Snapshot{
		RecordsReadSuccess:   m.RecordsReadSuccess.Load(),
		RecordsReadError:     m.RecordsReadError.Load(),
		UploadCountSuccess:   m.UploadCountSuccess.Load(),
		UploadBytesSuccess:   m.UploadBytesSuccess.Load(),
		UploadTimeSuccess:    m.UploadTimeSuccess.Load(),
		UploadRecordsSuccess: m.UploadRecordsSuccess.Load(),
		UploadCountError:     m.UploadCountError.Load(),
		UploadBytesError:     m.UploadBytesError.Load(),
		UploadTimeError:      m.UploadTimeError.Load(),
		UploadRecordCRCError: m.UploadRecordCRCError.Load(),
		RecordsPendingUpload: pending,
	}
}

// Properties lists the snapshot as published property name/value pairs,
// in publishing order.
func (s Snapshot) Properties() [][2]string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return [][2]string{
		{"totalUploadRecordCRCError", u(s.UploadRecordCRCError)},
		{"totalUploadCountSuccess", u(s.UploadCountSuccess)},
		{"totalUploadTimeSuccess", u(s.UploadTimeSuccess)},
		{"totalUploadRecordsSuccess", u(s.UploadRecordsSuccess)},
		{"totalUploadCountError", u(s.UploadCountError)},
		{"totalUploadTimeError", u(s.UploadTimeError)},
		{"totalRecordsReadSuccess", u(s.RecordsReadSuccess)},
		{"totalRecordsReadError", u(s.RecordsReadError)},
		{"totalRecordsPendingUpload", strconv.Itoa(s.RecordsPendingUpload)},
		{"totalUploadBytesSuccess", u(s.UploadBytesSuccess)},
		{"totalUploadBytesError", u(s.UploadBytesError)},
		{"totalRecordsEvicted", u(s.RecordsEvicted)},
	}
}

// Reporter is the metrics aggregator: on each call to Report it reads the
// backlog and all counters and publishes them. It never changes a counter.
type Reporter struct {
	Queue     Backlog
	Metrics   *Metrics
	Publisher Publisher
	Network   Connectivity
	Watchdog  Watchdog
}

// Report publishes the current snapshot. It is skipped while the network
// is down, since every value goes out over MQTT.
func (r *Reporter) Report() error {
	if r.Network != nil && !r.Network.IsConnected() {
		log.Debug().Msg("metrics: offline, report skipped")
		return nil
	}

	snap := r.Metrics.Snapshot(r.Queue.Count())
	snap.RecordsEvicted = r.Queue.Evicted()
	log.Info().
		Int("pending", snap.RecordsPendingUpload).
		Uint64("readOK", snap.RecordsReadSuccess).
		Uint64("readErr", snap.RecordsReadError).
		Uint64("uploaded", snap.UploadRecordsSuccess).
		Uint64("evicted", snap.RecordsEvicted).
		Msg("metrics: reporting")

	r.Watchdog.Ping()
	var errs []error
	for _, p := range snap.Properties() {
		if err := r.Publisher.Publish(p[0], p[1]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p[0], err))
		}
	}
	r.Watchdog.Ping()
	return errors.Join(errs...)
}
