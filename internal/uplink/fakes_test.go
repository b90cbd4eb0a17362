// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gps_uplink/internal/gps"
	"github.com/relabs-tech/gps_uplink/internal/queue"
)

// record returns a valid sentence of exactly length bytes tagged with seq.
func record(seq, length int) string {
	body := fmt.Sprintf("GPGGA,%06d,", seq)
	body += strings.Repeat("0", length-4-len(body))
	return gps.Sentence(body)
}

// corrupt returns a sentence of length bytes whose checksum is wrong.
func corrupt(seq, length int) string {
	good := record(seq, length)
	suffix := "00"
	if strings.HasSuffix(good, "00") {
		suffix = "01"
	}
	return good[:len(good)-2] + suffix
}

type memQueue struct {
	mu      sync.Mutex
	records []queue.Record
	nextID  uint64
	evicted uint64
	flushes int
	peekErr error
}

func newMemQueue(records ...string) *memQueue {
	q := &memQueue{nextID: 1}
	for _, r := range records {
		q.Push(r)
	}
	return q
}

func (q *memQueue) Push(r string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.nextID == 0 {
		q.nextID = 1
	}
	q.records = append(q.records, queue.Record{ID: q.nextID, Line: r})
	q.nextID++
	return nil
}

func (q *memQueue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushes++
	return nil
}

func (q *memQueue) PeekAfter(id uint64) (queue.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.peekErr != nil {
		return queue.Record{}, false, q.peekErr
	}
	for _, r := range q.records {
		if r.ID > id {
			return r, true, nil
		}
	}
	return queue.Record{}, false, nil
}

func (q *memQueue) RemoveThrough(id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.records) > 0 && q.records[0].ID <= id {
		q.records = q.records[1:]
	}
	return nil
}

func (q *memQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

func (q *memQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

func (q *memQueue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, r := range q.records {
		out = append(out, r.Line)
	}
	return out
}

type nopWatchdog struct{}

func (nopWatchdog) Ping() {}

type network struct{ up bool }

func (n *network) IsConnected() bool { return n.up }

type published struct {
	property string
	value    string
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(property, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{property, value})
	return nil
}

func (p *recordingPublisher) properties() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		out = append(out, s.property)
	}
	return out
}

// scriptedSource returns canned results in order and records the kinds
// it was asked for.
type scriptedSource struct {
	results []sourceResult
	asked   []gps.Kind
}

type sourceResult struct {
	record string
	err    error
}

func (s *scriptedSource) Next(kind gps.Kind) (string, error) {
	s.asked = append(s.asked, kind)
	if len(s.results) == 0 {
		return "", gps.ErrReadTimeout
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.record, r.err
}

// collectorRequest is one POST as seen by the fake collector.
type collectorRequest struct {
	conn          int
	path          string
	host          string
	contentType   string
	contentLength int64
	body          string
	response      string
}

// fakeCollector accepts connections and answers each POST with whatever
// respond returns. An empty response leaves the client waiting.
type fakeCollector struct {
	t       *testing.T
	ln      net.Listener
	respond func(n int, body string) string

	mu       sync.Mutex
	requests []collectorRequest
	conns    int
}

func startCollector(t *testing.T, respond func(n int, body string) string) *fakeCollector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &fakeCollector{t: t, ln: ln, respond: respond}
	t.Cleanup(func() { ln.Close() })
	go c.serve()
	return c
}

func (c *fakeCollector) serve() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.conns++
		id := c.conns
		c.mu.Unlock()
		go c.handle(id, conn)
	}
}

func (c *fakeCollector) handle(id int, conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return
		}

		c.mu.Lock()
		c.requests = append(c.requests, collectorRequest{
			conn:          id,
			path:          req.URL.Path,
			host:          req.Host,
			contentType:   req.Header.Get("Content-Type"),
			contentLength: req.ContentLength,
			body:          string(body),
		})
		n := len(c.requests)
		c.mu.Unlock()

		resp := c.respond(n, string(body))
		c.mu.Lock()
		c.requests[n-1].response = resp
		c.mu.Unlock()
		if resp == "" {
			// stall until the client gives up
			io.Copy(io.Discard, br)
			return
		}
		if _, err := io.WriteString(conn, resp); err != nil {
			return
		}
	}
}

func (c *fakeCollector) port() int {
	return c.ln.Addr().(*net.TCPAddr).Port
}

func (c *fakeCollector) seen() []collectorRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]collectorRequest(nil), c.requests...)
}

func (c *fakeCollector) connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns
}

const (
	created  = "HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"
	rejected = "HTTP/1.1 500 Error\r\nContent-Length: 5\r\n\r\noops\n"
)

func always(resp string) func(int, string) string {
	return func(int, string) string { return resp }
}

// fakeClock is advanced explicitly by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDial = errors.New("dial: network unreachable")
