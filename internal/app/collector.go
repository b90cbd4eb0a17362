// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/gps_uplink/internal/gps"
)

// maxBatchBytes bounds one POST body.
const maxBatchBytes = 64 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local development only
	},
}

// Batch is one accepted upload as streamed to websocket viewers.
type Batch struct {
	Path     string    `json:"path"`
	Received time.Time `json:"received"`
	Bytes    int       `json:"bytes"`
	Records  []string  `json:"records"`
	Corrupt  int       `json:"corrupt"`
}

// DeviceStats are the running totals for one upload path.
type DeviceStats struct {
	Path     string    `json:"path"`
	Batches  int       `json:"batches"`
	Records  int       `json:"records"`
	Corrupt  int       `json:"corrupt"`
	Bytes    int       `json:"bytes"`
	LastSeen time.Time `json:"last_seen"`
}

// Collector is a development stand-in for the upload endpoint. It accepts
// batch POSTs on any path and answers 201, or 500 when rejecting.
type Collector struct {
	reject bool
	fixes  *FixBoard

	mu      sync.Mutex
	devices map[string]*DeviceStats
	viewers map[chan Batch]struct{}
}

// NewCollector returns a collector; reject makes every POST fail with 500.
func NewCollector(reject bool) *Collector {
	return &Collector{
		reject:  reject,
		fixes:   NewFixBoard(),
		devices: make(map[string]*DeviceStats),
		viewers: make(map[chan Batch]struct{}),
	}
}

// Routes builds the collector's router.
func (c *Collector) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/devices", c.handleDevices)
	r.Get("/api/fixes", c.fixes.handleFixes)
	r.Get("/ws/batches", c.handleBatchesWS)
	r.Post("/*", c.handleBatch)
	return r
}

// ErrResponse is the JSON error body.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errInvalidBatch(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, StatusText: "invalid batch", ErrorText: err.Error()}
}

var errRejected = &ErrResponse{HTTPStatusCode: http.StatusInternalServerError, StatusText: "batch rejected"}

func (c *Collector) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		render.Render(w, r, errInvalidBatch(err))
		return
	}
	if r.ContentLength != int64(len(body)) {
		render.Render(w, r, errInvalidBatch(fmt.Errorf("content length %d, body %d bytes", r.ContentLength, len(body))))
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		render.Render(w, r, errInvalidBatch(fmt.Errorf("content type %q", ct)))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if c.reject {
		log.Warn().Str("path", path).Int("bytes", len(body)).Msg("collector: batch rejected")
		render.Render(w, r, errRejected)
		return
	}

	batch := Batch{Path: path, Received: time.Now(), Bytes: len(body)}
	for _, line := range bytes.Split(bytes.TrimSuffix(body, []byte("\n")), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		rec := string(line)
		if !gps.ValidChecksum(rec) {
			batch.Corrupt++
		}
		batch.Records = append(batch.Records, rec)
	}
	c.record(batch)

	log.Info().Str("path", path).Int("records", len(batch.Records)).Int("corrupt", batch.Corrupt).Msg("collector: batch accepted")
	w.WriteHeader(http.StatusCreated)
}

// record updates the totals and fans the batch out to viewers. Slow
// viewers miss batches instead of blocking uploads.
func (c *Collector) record(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.devices[b.Path]
	if !ok {
		st = &DeviceStats{Path: b.Path}
		c.devices[b.Path] = st
	}
	st.Batches++
	st.Records += len(b.Records)
	st.Corrupt += b.Corrupt
	st.Bytes += b.Bytes
	st.LastSeen = b.Received

	for ch := range c.viewers {
		select {
		case ch <- b:
		default:
		}
	}
}

// Devices returns the per-path totals sorted by path.
func (c *Collector) Devices() []DeviceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceStats, 0, len(c.devices))
	for _, st := range c.devices {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (c *Collector) handleDevices(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, c.Devices())
}

func (c *Collector) subscribe() chan Batch {
	ch := make(chan Batch, 16)
	c.mu.Lock()
	c.viewers[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

func (c *Collector) unsubscribe(ch chan Batch) {
	c.mu.Lock()
	delete(c.viewers, ch)
	c.mu.Unlock()
}

func (c *Collector) handleBatchesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("collector: websocket upgrade error")
		return
	}
	defer conn.Close()

	ch := c.subscribe()
	defer c.unsubscribe(ch)

	// the reader only notices the viewer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case b := <-ch:
			if err := conn.WriteJSON(b); err != nil {
				log.Debug().Err(err).Msg("collector: websocket write error")
				return
			}
		}
	}
}

// RunCollector serves the collector on port until SIGINT or SIGTERM. When
// broker is set the live fixes of every tracker under topicRoot are served
// on /api/fixes.
func RunCollector(port int, reject bool, broker, topicRoot string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := NewCollector(reject)
	if broker != "" {
		client, err := c.fixes.Subscribe(broker, "gps-uplink-collector", topicRoot)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           c.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("reject", reject).Msg("collector: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("collector: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
