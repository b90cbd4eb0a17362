// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_uplink/internal/queue"
)

func newTestUploader(t *testing.T, c *fakeCollector, q RecordQueue, m *Metrics) *Uploader {
	t.Helper()
	cfg := UploadConfig{
		Host:            "127.0.0.1",
		Path:            "devices/t1/gps/raw",
		ChunkBytes:      1150,
		MaxChunks:       10,
		RoundBudget:     10 * time.Second,
		ResponseTimeout: 2 * time.Second,
		ConnectTimeout:  time.Second,
	}
	if c != nil {
		cfg.Port = c.port()
	}
	return NewUploader(cfg, q, nopWatchdog{}, m)
}

func fiveRecords() []string {
	var recs []string
	for i := 0; i < 5; i++ {
		recs = append(recs, record(i, 79)) // 80 bytes with newline
	}
	return recs
}

func TestRound_CreatedRemovesEverything(t *testing.T) {
	c := startCollector(t, always(created))
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 0, q.Count())
	assert.Equal(t, 1, q.flushes)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 5, res.Removed)

	snap := m.Snapshot(q.Count())
	assert.Equal(t, uint64(1), snap.UploadCountSuccess)
	assert.Equal(t, uint64(400), snap.UploadBytesSuccess)
	assert.Equal(t, uint64(5), snap.UploadRecordsSuccess)
	assert.Zero(t, snap.UploadCountError)
	assert.Zero(t, snap.UploadBytesError)
	assert.Zero(t, snap.UploadRecordCRCError)

	reqs := c.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/devices/t1/gps/raw", reqs[0].path)
	assert.Equal(t, "127.0.0.1", reqs[0].host)
	assert.Equal(t, "text/plain", reqs[0].contentType)
	assert.Equal(t, int64(400), reqs[0].contentLength)
	assert.Equal(t, strings.Join(fiveRecords(), "\n")+"\n", reqs[0].body)
}

func TestRound_ServerErrorRemovesNothing(t *testing.T) {
	c := startCollector(t, always(rejected))
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.ErrorIs(t, res.Err, ErrRejected)

	assert.Equal(t, 5, q.Count())
	assert.Equal(t, fiveRecords(), q.snapshot())
	snap := m.Snapshot(q.Count())
	assert.Equal(t, uint64(1), snap.UploadCountError)
	assert.Equal(t, uint64(400), snap.UploadBytesError)
	assert.Zero(t, snap.UploadCountSuccess)
	assert.Zero(t, snap.UploadRecordsSuccess)
	assert.Len(t, c.seen(), 1)
}

func TestRound_ConnectionFailure(t *testing.T) {
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}
	u := newTestUploader(t, nil, q, m)
	u.Dial = func(context.Context, string, string) (net.Conn, error) { return nil, errDial }

	res := u.Round(context.Background())
	require.ErrorIs(t, res.Err, ErrConnect)
	assert.True(t, res.Attempted)

	assert.Equal(t, fiveRecords(), q.snapshot())
	snap := m.Snapshot(q.Count())
	assert.Equal(t, uint64(1), snap.UploadCountError)
	assert.Zero(t, snap.UploadBytesError)
	assert.Zero(t, snap.UploadCountSuccess)
}

func TestRound_EmptyQueueDoesNotConnect(t *testing.T) {
	q := newMemQueue()
	u := newTestUploader(t, nil, q, &Metrics{})
	u.Dial = func(context.Context, string, string) (net.Conn, error) {
		t.Fatal("dialed with an empty queue")
		return nil, nil
	}

	res := u.Round(context.Background())
	assert.NoError(t, res.Err)
	assert.False(t, res.Attempted)
	assert.Equal(t, 1, q.flushes)
}

func TestRound_ResponseTimeoutKeepsRecords(t *testing.T) {
	c := startCollector(t, always(""))
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}
	u := newTestUploader(t, c, q, m)
	u.cfg.ResponseTimeout = 100 * time.Millisecond

	res := u.Round(context.Background())
	require.ErrorIs(t, res.Err, ErrResponseTimeout)

	assert.Equal(t, 5, q.Count())
	snap := m.Snapshot(q.Count())
	assert.Equal(t, uint64(1), snap.UploadCountError)
	assert.Equal(t, uint64(400), snap.UploadBytesError)
	assert.GreaterOrEqual(t, snap.UploadTimeError, uint64(100))
}

func TestRound_UnparsableResponse(t *testing.T) {
	c := startCollector(t, always("garbage\r\n\r\n"))
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.ErrorIs(t, res.Err, ErrBadResponse)
	assert.Equal(t, 5, q.Count())
	assert.Equal(t, uint64(1), m.UploadCountError.Load())
}

func TestRound_ChunksShareOneConnection(t *testing.T) {
	// a body on every 201 checks the response is drained between chunks
	c := startCollector(t, always("HTTP/1.1 201 Created\r\nContent-Length: 8\r\n\r\naccepted"))
	var recs []string
	for i := 0; i < 30; i++ {
		recs = append(recs, record(i, 79))
	}
	q := newMemQueue(recs...)
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.NoError(t, res.Err)

	reqs := c.seen()
	require.Len(t, reqs, 3)
	// 14*80 = 1120 fits under 1150, a 15th record would not
	assert.Len(t, reqs[0].body, 1120)
	assert.Len(t, reqs[1].body, 1120)
	assert.Len(t, reqs[2].body, 160)
	for _, r := range reqs {
		assert.Equal(t, 1, r.conn)
	}
	assert.Equal(t, 1, c.connections())
	assert.Equal(t, 0, q.Count())
	assert.Equal(t, uint64(30), m.UploadRecordsSuccess.Load())
	assert.Equal(t, uint64(3), m.UploadCountSuccess.Load())
}

func TestRound_MaxChunksPerRound(t *testing.T) {
	c := startCollector(t, always(created))
	var recs []string
	for i := 0; i < 40; i++ {
		recs = append(recs, record(i, 79))
	}
	q := newMemQueue(recs...)
	u := newTestUploader(t, c, q, &Metrics{})
	u.cfg.MaxChunks = 2

	res := u.Round(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 12, q.Count())
	assert.Equal(t, recs[28:], q.snapshot())
}

func TestRound_TimeBudget(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := startCollector(t, func(int, string) string {
		clock.Advance(6 * time.Second)
		return created
	})
	var recs []string
	for i := 0; i < 60; i++ {
		recs = append(recs, record(i, 79))
	}
	q := newMemQueue(recs...)
	u := newTestUploader(t, c, q, &Metrics{})
	u.Now = clock.Now

	res := u.Round(context.Background())
	require.NoError(t, res.Err)
	// the second exchange ends 12s into a 10s budget
	assert.Equal(t, 2, res.Chunks)
	assert.Len(t, c.seen(), 2)
	assert.Equal(t, 60-28, q.Count())
}

func TestRound_CorruptRecordsInsideChunk(t *testing.T) {
	c := startCollector(t, always(created))
	q := newMemQueue(corrupt(0, 79), record(1, 79), corrupt(2, 79), record(3, 79))
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 0, q.Count())
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, res.Corrupt)
	assert.Equal(t, uint64(2), m.UploadRecordCRCError.Load())
	assert.Equal(t, uint64(2), m.UploadRecordsSuccess.Load())
	assert.Equal(t, uint64(160), m.UploadBytesSuccess.Load())

	reqs := c.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, record(1, 79)+"\n"+record(3, 79)+"\n", reqs[0].body)
}

func TestRound_CorruptOnlyIsDroppedWithoutRequest(t *testing.T) {
	c := startCollector(t, always(created))
	q := newMemQueue(corrupt(0, 79), corrupt(1, 79))
	m := &Metrics{}

	res := newTestUploader(t, c, q, m).Round(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 0, q.Count())
	assert.Equal(t, 2, res.Corrupt)
	assert.Equal(t, uint64(2), m.UploadRecordCRCError.Load())
	assert.Zero(t, m.UploadCountSuccess.Load())
	assert.Zero(t, m.UploadCountError.Load())
	assert.Empty(t, c.seen())
}

func TestRound_RejectionIsRepeatable(t *testing.T) {
	c := startCollector(t, always(rejected))
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}
	u := newTestUploader(t, c, q, m)

	first := u.Round(context.Background())
	second := u.Round(context.Background())

	assert.ErrorIs(t, first.Err, ErrRejected)
	assert.ErrorIs(t, second.Err, ErrRejected)
	assert.Equal(t, first.Removed, second.Removed)
	assert.Equal(t, fiveRecords(), q.snapshot())
	reqs := c.seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].body, reqs[1].body)
}

func TestRound_PeekErrorEndsRound(t *testing.T) {
	c := startCollector(t, always(created))
	q := newMemQueue(fiveRecords()...)
	q.peekErr = fmt.Errorf("disk gone")

	res := newTestUploader(t, c, q, &Metrics{}).Round(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, 5, q.Count())
	assert.Empty(t, c.seen())
}

// Records leave the queue only inside a batch the collector confirmed, and
// nothing is delivered twice.
func TestRound_NoLossUnderInterleaving(t *testing.T) {
	c := startCollector(t, func(n int, _ string) string {
		if n%3 == 0 {
			return rejected
		}
		return created
	})
	q := newMemQueue()
	u := newTestUploader(t, c, q, &Metrics{})
	rng := rand.New(rand.NewSource(7))

	var pushed []string
	for step := 0; step < 40; step++ {
		for i := rng.Intn(25); i > 0; i-- {
			rec := record(len(pushed), 40+rng.Intn(40))
			pushed = append(pushed, rec)
			require.NoError(t, q.Push(rec))
		}
		u.Round(context.Background())
	}

	var delivered []string
	for _, r := range c.seen() {
		if strings.HasPrefix(r.response, "HTTP/1.1 201") {
			delivered = append(delivered, strings.Split(strings.TrimSuffix(r.body, "\n"), "\n")...)
		}
	}
	assert.Equal(t, pushed, append(delivered, q.snapshot()...))
}

func openDiskQueue(t *testing.T, maxRecords int, records ...string) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "gpsqueue.db"), queue.Options{
		MaxRecords:   maxRecords,
		RecordLength: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	for _, r := range records {
		require.NoError(t, q.Push(r))
	}
	return q
}

func queuedLines(t *testing.T, q RecordQueue) []string {
	t.Helper()
	var out []string
	var after uint64
	for {
		rec, ok, err := q.PeekAfter(after)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, rec.Line)
		after = rec.ID
	}
}

func sentLines(c *fakeCollector) []string {
	var out []string
	for _, r := range c.seen() {
		out = append(out, strings.Split(strings.TrimSuffix(r.body, "\n"), "\n")...)
	}
	return out
}

// A capture push that evicts the head while a chunk is waiting for its 201
// must not cost an unsent record.
func TestRound_HeadEvictedWhileChunkInFlight(t *testing.T) {
	var recs []string
	for i := 0; i < 5; i++ {
		recs = append(recs, record(i, 79))
	}
	q := openDiskQueue(t, 5, recs...)
	late := record(100, 79)

	c := startCollector(t, func(int, string) string {
		assert.NoError(t, q.Push(late)) // evicts record 0
		return created
	})
	u := newTestUploader(t, c, q, &Metrics{})
	u.cfg.ChunkBytes = 200 // two 80 byte records
	u.cfg.MaxChunks = 1

	res := u.Round(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, recs[:2], sentLines(c))
	assert.Equal(t, []string{recs[2], recs[3], recs[4], late}, queuedLines(t, q))
	assert.Equal(t, uint64(1), q.Evicted())
}

// Clearing the queue while a chunk is in flight must not take records
// captured after the clear with it.
func TestRound_QueueClearedWhileChunkInFlight(t *testing.T) {
	q := openDiskQueue(t, 0, fiveRecords()...)
	fresh := []string{record(200, 79), record(201, 79)}

	c := startCollector(t, func(int, string) string {
		assert.NoError(t, q.RemoveElements(q.Count()))
		for _, r := range fresh {
			assert.NoError(t, q.Push(r))
		}
		return created
	})
	u := newTestUploader(t, c, q, &Metrics{})
	u.cfg.MaxChunks = 1

	res := u.Round(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, fiveRecords(), sentLines(c))
	assert.Equal(t, fresh, queuedLines(t, q))
}

type deadlineFailConn struct{ net.Conn }

func (deadlineFailConn) SetDeadline(time.Time) error { return errors.New("deadline not supported") }

func TestRound_DeadlineErrorEndsRound(t *testing.T) {
	q := newMemQueue(fiveRecords()...)
	m := &Metrics{}
	u := newTestUploader(t, nil, q, m)
	u.Dial = func(context.Context, string, string) (net.Conn, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { server.Close() })
		return deadlineFailConn{client}, nil
	}

	res := u.Round(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "set deadline")
	assert.Equal(t, fiveRecords(), q.snapshot())
	assert.Equal(t, uint64(1), m.UploadCountError.Load())
	assert.Equal(t, uint64(400), m.UploadBytesError.Load())
	assert.Zero(t, m.UploadCountSuccess.Load())
}
