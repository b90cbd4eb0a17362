// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
)

// StatusCreated is the only status that confirms a batch.
const StatusCreated = 201

// maxStatusLine bounds the status line; anything longer is garbage.
const maxStatusLine = 256

var (
	// ErrConnect means the collector could not be reached.
	ErrConnect = errors.New("upload: connection failed")
	// ErrResponseTimeout means no response started within the wait limit.
	ErrResponseTimeout = errors.New("upload: server response timeout")
	// ErrBadResponse means the response could not be parsed.
	ErrBadResponse = errors.New("upload: invalid server response")
	// ErrRejected means the collector answered with a status other than 201.
	ErrRejected = errors.New("upload: server rejected batch")
)

// writeRequest writes one batch POST. Content-Length is the exact body size.
func writeRequest(w *bufio.Writer, host, path string, body []byte) error {
	fmt.Fprintf(w, "POST /%s HTTP/1.1\r\nHost: %s\r\nContent-Length: %d\r\nContent-Type: text/plain\r\n\r\n",
		path, host, len(body))
	w.Write(body)
	return w.Flush()
}

// readStatus reads the status line and returns its second token as a
// three digit status code. The first token (the protocol) is ignored.
func readStatus(r *bufio.Reader) (int, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return 0, fmt.Errorf("%w: status line too long", ErrBadResponse)
	}
	if err != nil {
		return 0, err
	}
	if len(line) > maxStatusLine {
		return 0, fmt.Errorf("%w: status line too long", ErrBadResponse)
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, strings.TrimSpace(string(line)))
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || len(fields[1]) != 3 {
		return 0, fmt.Errorf("%w: status %q", ErrBadResponse, fields[1])
	}
	return code, nil
}

// drainResponse consumes the rest of a response after its status line so
// the next request on the connection starts clean. Bodies are delimited by
// Content-Length or chunked encoding; a response with neither has no body.
func drainResponse(r *bufio.Reader) error {
	header, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil {
		return fmt.Errorf("drain headers: %w", err)
	}

	switch {
	case strings.EqualFold(header.Get("Transfer-Encoding"), "chunked"):
		if _, err := io.Copy(io.Discard, httputil.NewChunkedReader(r)); err != nil {
			return fmt.Errorf("drain chunked body: %w", err)
		}
		// trailer section
		if _, err := textproto.NewReader(r).ReadMIMEHeader(); err != nil {
			return fmt.Errorf("drain trailer: %w", err)
		}
	case header.Get("Content-Length") != "":
		n, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("drain: bad Content-Length %q", header.Get("Content-Length"))
		}
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			return fmt.Errorf("drain body: %w", err)
		}
	}

	if n := r.Buffered(); n > 0 {
		r.Discard(n)
	}
	return nil
}
