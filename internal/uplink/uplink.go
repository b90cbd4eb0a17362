// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package uplink captures NMEA records from the GPS receiver into the
// persistent queue and drains the queue to the collector in batches.
//
// Capture only appends. Upload reads records by ID and, once the collector
// confirmed a chunk (or a record was found corrupt), deletes up to the last
// ID it examined. Eviction or clearing may move the head at any time;
// deleting by ID rather than by count keeps records nobody sent.
package uplink

import (
	"github.com/relabs-tech/gps_uplink/internal/gps"
	"github.com/relabs-tech/gps_uplink/internal/queue"
)

// RecordQueue is the persistent FIFO shared by capture and upload.
type RecordQueue interface {
	Push(record string) error
	Flush() error
	PeekAfter(id uint64) (rec queue.Record, ok bool, err error)
	RemoveThrough(id uint64) error
	Count() int
}

// Backlog is the part of the queue the metrics reporter needs.
type Backlog interface {
	Count() int
	Evicted() uint64
}

// SentenceSource yields one raw record of the requested kind per call.
type SentenceSource interface {
	Next(kind gps.Kind) (string, error)
}

// Connectivity reports whether the device currently has a network path.
type Connectivity interface {
	IsConnected() bool
}

// Publisher sends a named property value to the device-management broker.
type Publisher interface {
	Publish(property, value string) error
}

// Watchdog must be pinged around every operation that can block.
type Watchdog interface {
	Ping()
}
