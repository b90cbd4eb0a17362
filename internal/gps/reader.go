// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrReadTimeout is returned when the receiver stops sending before a
// prefix or line terminator was seen. The serial port's inter-character
// timeout turns a stalled receiver into a short read.
var ErrReadTimeout = errors.New("gps: serial read timeout")

// maxScanBytes bounds how much foreign traffic is skipped while looking for
// a prefix or a line end; about two seconds of output at 9600 bps.
const maxScanBytes = 2048

// SentenceReader pulls single sentences of a requested kind off a serial
// stream. It is not safe for concurrent use.
type SentenceReader struct {
	r            *bufio.Reader
	recordLength int
}

// NewSentenceReader wraps r. recordLength is the record size including
// the terminator slot, so assembled records hold at most recordLength-1
// bytes.
func NewSentenceReader(r io.Reader, recordLength int) *SentenceReader {
	return &SentenceReader{r: bufio.NewReader(r), recordLength: recordLength}
}

// Next discards input up to the next occurrence of kind's prefix, reads to
// the end of that line and returns prefix+line truncated to the record
// limit. On a timeout the partial record read so far is returned with the
// error.
func (s *SentenceReader) Next(kind Kind) (string, error) {
	prefix := kind.Prefix()
	if err := s.find(prefix); err != nil {
		return "", err
	}

	limit := s.recordLength - 1
	buf := make([]byte, 0, limit)
	buf = append(buf, prefix...)
	if len(buf) > limit {
		buf = buf[:limit]
	}

	for scanned := 0; ; scanned++ {
		if scanned >= maxScanBytes {
			return string(buf), fmt.Errorf("%w: no line end after %d bytes", ErrReadTimeout, scanned)
		}
		c, err := s.r.ReadByte()
		if err != nil {
			return string(buf), fmt.Errorf("%w: %v", ErrReadTimeout, err)
		}
		if c == '\n' {
			break
		}
		if c == '\r' {
			continue
		}
		if len(buf) < limit {
			buf = append(buf, c)
		}
	}
	return string(buf), nil
}

// find consumes bytes until prefix has been read. Prefixes start with '$',
// which never occurs inside a sentence, so a mismatch restarts the match.
func (s *SentenceReader) find(prefix string) error {
	matched := 0
	for scanned := 0; matched < len(prefix); scanned++ {
		if scanned >= maxScanBytes {
			return fmt.Errorf("%w: %s not seen in %d bytes", ErrReadTimeout, prefix, scanned)
		}
		c, err := s.r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: waiting for %s: %v", ErrReadTimeout, prefix, err)
		}
		switch {
		case c == prefix[matched]:
			matched++
		case c == prefix[0]:
			matched = 1
		default:
			matched = 0
		}
	}
	return nil
}
