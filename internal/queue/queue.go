// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package queue is the persistent, bounded FIFO of captured GPS records.
//
// Records are appended at the tail (Push), read in order by ID (PeekAfter)
// and deleted from the head, either by count (RemoveElements) or up to a
// known ID (RemoveThrough). Records are never modified in place. Every operation holds one mutex for its whole
// duration, so the capture and upload tasks may share a Queue.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asdine/storm/v3"
	"github.com/rs/zerolog/log"
)

// Record is one queued line and its ID. IDs are assigned on Push, grow by
// one per record and are never reused, so the queued IDs always form one
// contiguous run from the head to the tail.
type Record struct {
	ID   uint64
	Line string
}

// record is the stored form. IDs are stored big-endian, so bucket order is
// FIFO order.
type record struct {
	ID   uint64 `storm:"id"`
	Line string
}

// Options configure a Queue.
type Options struct {
	// MaxRecords bounds the queue. When full, the oldest records are
	// evicted to make room.
	MaxRecords int

	// BufferRecords is how many pushes are held in memory before they are
	// written in one transaction. Zero persists every push immediately.
	BufferRecords int

	// RecordLength caps stored records at RecordLength-1 bytes. Zero
	// disables the cap.
	RecordLength int
}

// Queue is a storm/bolt backed record queue.
type Queue struct {
	mu        sync.Mutex
	db        *storm.DB
	opts      Options
	persisted int
	buffer    []Record
	nextID    uint64
	evicted   uint64
	closed    bool
}

// Open opens (or creates) the queue database at path.
func Open(path string, opts Options) (*Queue, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	if err := db.Init(&record{}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue %s: %w", path, err)
	}

	n, err := db.Count(&record{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("count queue %s: %w", path, err)
	}

	nextID := uint64(1)
	var last []record
	err = db.Select().Reverse().Limit(1).Find(&last)
	switch {
	case err == nil && len(last) > 0:
		nextID = last[0].ID + 1
	case err != nil && !errors.Is(err, storm.ErrNotFound):
		db.Close()
		return nil, fmt.Errorf("tail of queue %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("records", n).Msg("queue: opened")
	return &Queue{db: db, opts: opts, persisted: n, nextID: nextID}, nil
}

// head is the ID of the oldest queued record, or the next ID when empty.
func (q *Queue) head() uint64 {
	return q.nextID - uint64(q.persisted+len(q.buffer))
}

// Push appends one record. It may only be buffered in memory until the
// buffer fills or Flush is called.
func (q *Queue) Push(line string) error {
	if q.opts.RecordLength > 0 && len(line) > q.opts.RecordLength-1 {
		line = line[:q.opts.RecordLength-1]
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.buffer = append(q.buffer, Record{ID: q.nextID, Line: line})
	q.nextID++
	if len(q.buffer) > q.opts.BufferRecords {
		return q.flushLocked()
	}
	return nil
}

// Flush writes buffered records durably. Calling it with nothing
// buffered is a no-op.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked()
}

func (q *Queue) flushLocked() error {
	if q.closed || len(q.buffer) == 0 {
		return nil
	}

	if limit := q.opts.MaxRecords; limit > 0 {
		if over := q.persisted + len(q.buffer) - limit; over > 0 {
			fromDisk := min(over, q.persisted)
			if err := q.removeLocked(fromDisk); err != nil {
				return err
			}
			if rest := over - fromDisk; rest > 0 {
				q.buffer = q.buffer[rest:]
			}
			q.evicted += uint64(over)
			log.Warn().Int("evicted", over).Msg("queue: full, oldest records dropped")
		}
	}

	tx, err := q.db.Begin(true)
	if err != nil {
		return fmt.Errorf("queue flush: %w", err)
	}
	defer tx.Rollback()

	for _, r := range q.buffer {
		if err := tx.Save(&record{ID: r.ID, Line: r.Line}); err != nil {
			return fmt.Errorf("queue flush: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue flush: %w", err)
	}

	q.persisted += len(q.buffer)
	q.buffer = q.buffer[:0]
	return nil
}

// PeekAfter returns the oldest queued record whose ID is greater than id
// without removing it. PeekAfter(0) is the head. ok is false when no such
// record is queued.
func (q *Queue) PeekAfter(id uint64) (rec Record, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	index := 0
	if head := q.head(); id >= head {
		index = int(id - head + 1)
	}
	if index >= q.persisted+len(q.buffer) {
		return Record{}, false, nil
	}
	if index >= q.persisted {
		return q.buffer[index-q.persisted], true, nil
	}

	var recs []record
	err = q.db.Select().Skip(index).Limit(1).Find(&recs)
	if errors.Is(err, storm.ErrNotFound) || (err == nil && len(recs) == 0) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("queue peek after %d: %w", id, err)
	}
	return Record{ID: recs[0].ID, Line: recs[0].Line}, true, nil
}

// RemoveThrough deletes every queued record whose ID is at most id.
// Records pushed later are never touched, whatever happened to the head
// in between.
func (q *Queue) RemoveThrough(id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.head()
	if id < head {
		return nil
	}
	return q.removeHeadLocked(min(int(id-head+1), q.persisted+len(q.buffer)))
}

// RemoveElements deletes the first n records. Asking for more than Count
// removes everything.
func (q *Queue) RemoveElements(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeHeadLocked(n)
}

func (q *Queue) removeHeadLocked(n int) error {
	if n <= 0 {
		return nil
	}
	fromDisk := min(n, q.persisted)
	if err := q.removeLocked(fromDisk); err != nil {
		return err
	}
	if rest := min(n-fromDisk, len(q.buffer)); rest > 0 {
		q.buffer = q.buffer[rest:]
	}
	return nil
}

func (q *Queue) removeLocked(n int) error {
	if n <= 0 {
		return nil
	}
	err := q.db.Select().Limit(n).Delete(new(record))
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("queue remove %d: %w", n, err)
	}
	q.persisted -= n
	return nil
}

// Count returns the number of queued records, buffered ones included.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persisted + len(q.buffer)
}

// Evicted returns how many records were dropped because the queue was
// full since it was opened.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Close flushes pending records and closes the database. Closing twice is
// harmless.
func (q *Queue) Close() error {
	flushErr := q.Flush()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return flushErr
	}
	q.closed = true
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	return flushErr
}
