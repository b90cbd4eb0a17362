// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/gps_uplink/internal/gps"
)

// UploadConfig holds the collector endpoint and the per-round limits.
type UploadConfig struct {
	Host string
	Port int
	// Path is the request path without its leading slash.
	Path string

	ChunkBytes      int
	MaxChunks       int
	RoundBudget     time.Duration
	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
}

// URL is the upload endpoint, for logging.
func (c UploadConfig) URL() string {
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Path)
}

// RoundResult summarises one upload round.
type RoundResult struct {
	Chunks    int // requests confirmed with 201
	Records   int // valid records confirmed
	Corrupt   int // records dropped for a bad checksum
	Removed   int // records examined and deleted from the queue head
	Attempted bool
	// Err is why the round ended early, nil when it ran out of data,
	// chunks or time.
	Err error
}

// Uploader is the batched upload pipeline.
type Uploader struct {
	cfg     UploadConfig
	queue   RecordQueue
	wd      Watchdog
	metrics *Metrics
	chunk   *Chunk

	// Dial opens the collector connection; tests replace it.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
	// Now is the round clock; tests replace it.
	Now func() time.Time
}

// NewUploader returns an Uploader that dials with the configured connect
// timeout.
func NewUploader(cfg UploadConfig, queue RecordQueue, wd Watchdog, metrics *Metrics) *Uploader {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Uploader{
		cfg:     cfg,
		queue:   queue,
		wd:      wd,
		metrics: metrics,
		chunk:   NewChunk(cfg.ChunkBytes),
		Dial:    dialer.DialContext,
		Now:     time.Now,
	}
}

// chunkStats tallies the records examined while building one chunk.
type chunkStats struct {
	valid   int
	invalid int
	// lastID is the ID of the last record examined.
	lastID uint64
}

func (s chunkStats) examined() int { return s.valid + s.invalid }

// buildChunk fills u.chunk with consecutive valid records from the queue
// head. Corrupt records are skipped but counted; the first valid record
// that does not fit ends the chunk and is not counted.
func (u *Uploader) buildChunk() (chunkStats, error) {
	u.chunk.Reset()
	var st chunkStats
	for {
		rec, ok, err := u.queue.PeekAfter(st.lastID)
		if err != nil {
			return st, err
		}
		if !ok {
			return st, nil
		}
		if !gps.ValidChecksum(rec.Line) {
			log.Debug().Str("record", rec.Line).Msg("upload: crc error")
			st.invalid++
			st.lastID = rec.ID
			continue
		}
		if !u.chunk.Append(rec.Line) {
			return st, nil
		}
		st.valid++
		st.lastID = rec.ID
	}
}

// Round drains up to MaxChunks chunks over one connection, stopping early
// once RoundBudget has elapsed. Records are deleted only after a 201 for
// the chunk that carried them, or when they fail their checksum.
func (u *Uploader) Round(ctx context.Context) RoundResult {
	var res RoundResult
	start := u.Now()

	log.Info().Int("pending", u.queue.Count()).Msg("upload: preparation")
	if err := u.queue.Flush(); err != nil {
		res.Err = fmt.Errorf("upload: flush queue: %w", err)
		log.Error().Err(err).Msg("upload: queue flush failed")
		return res
	}
	if u.queue.Count() == 0 {
		log.Info().Msg("upload: no data to send")
		return res
	}

	res.Attempted = true
	address := net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.Port))
	u.wd.Ping()
	dialStart := u.Now()
	conn, err := u.Dial(ctx, "tcp", address)
	u.wd.Ping()
	if err != nil {
		u.metrics.uploadFailed(0, u.Now().Sub(dialStart))
		res.Err = fmt.Errorf("%w: %s: %v", ErrConnect, address, err)
		log.Warn().Err(err).Str("address", address).Msg("upload: server connection failed")
		return res
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for i := 0; i < u.cfg.MaxChunks && u.Now().Sub(start) < u.cfg.RoundBudget; i++ {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}

		st, err := u.buildChunk()
		if err != nil {
			res.Err = fmt.Errorf("upload: build chunk: %w", err)
			log.Error().Err(err).Msg("upload: queue read failed")
			return res
		}

		if u.chunk.Len() == 0 {
			if st.invalid > 0 {
				if err := u.queue.RemoveThrough(st.lastID); err != nil {
					res.Err = fmt.Errorf("upload: drop corrupt records: %w", err)
					return res
				}
				u.metrics.UploadRecordCRCError.Add(uint64(st.invalid))
				res.Corrupt += st.invalid
				res.Removed += st.invalid
				log.Warn().Int("records", st.invalid).Msg("upload: corrupt records dropped")
			} else {
				log.Info().Msg("upload: no data pending")
			}
			return res
		}

		if err := u.send(conn, r, w, st, &res); err != nil {
			res.Err = err
			return res
		}
		u.wd.Ping()
	}
	return res
}

// send performs one request/response exchange for the current chunk.
// A nil return means the connection is clean and the round may go on.
func (u *Uploader) send(conn net.Conn, r *bufio.Reader, w *bufio.Writer, st chunkStats, res *RoundResult) error {
	body := u.chunk.Bytes()
	size := len(body)
	log.Info().Int("records", st.valid).Int("err", st.invalid).Int("bytes", size).Str("path", u.cfg.Path).Msg("upload: POST")

	sent := u.Now()
	// the socket deadline is wall-clock time, unlike the replaceable round clock
	if err := conn.SetDeadline(time.Now().Add(u.cfg.ResponseTimeout)); err != nil {
		u.metrics.uploadFailed(size, u.Now().Sub(sent))
		log.Warn().Err(err).Msg("upload: set deadline failed")
		return fmt.Errorf("upload: set deadline: %w", err)
	}
	u.wd.Ping()
	if err := writeRequest(w, u.cfg.Host, u.cfg.Path, body); err != nil {
		u.metrics.uploadFailed(size, u.Now().Sub(sent))
		log.Warn().Err(err).Msg("upload: request write failed")
		return fmt.Errorf("upload: write request: %w", err)
	}
	u.wd.Ping()

	code, err := readStatus(r)
	elapsed := u.Now().Sub(sent)
	u.wd.Ping()
	if err != nil {
		u.metrics.uploadFailed(size, elapsed)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			log.Warn().Dur("wait", u.cfg.ResponseTimeout).Msg("upload: server response timeout")
			return ErrResponseTimeout
		}
		log.Warn().Err(err).Msg("upload: invalid server response")
		if !errors.Is(err, ErrBadResponse) {
			err = fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return err
	}

	var result error
	if code == StatusCreated {
		u.metrics.uploadSucceeded(size, st.valid, elapsed)
		u.metrics.UploadRecordCRCError.Add(uint64(st.invalid))
		if err := u.queue.RemoveThrough(st.lastID); err != nil {
			// The collector has the batch; leaving it queued means it is
			// sent again, which is preferable to losing it.
			log.Error().Err(err).Msg("upload: confirmed records not removed")
			return fmt.Errorf("upload: remove confirmed records: %w", err)
		}
		res.Chunks++
		res.Records += st.valid
		res.Corrupt += st.invalid
		res.Removed += st.examined()
		log.Info().Int("records", st.valid).Msg("upload: 201 Created")
	} else {
		u.metrics.uploadFailed(size, elapsed)
		log.Warn().Int("code", code).Msg("upload: server error")
		result = fmt.Errorf("%w: status %d", ErrRejected, code)
	}

	if err := drainResponse(r); err != nil {
		log.Debug().Err(err).Msg("upload: response drain failed")
		if result == nil {
			result = fmt.Errorf("upload: %w", err)
		}
	}
	return result
}
