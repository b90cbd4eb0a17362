// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
)

// ErrChecksum marks a record whose trailing checksum does not match its
// body, or that has no checksum envelope at all.
var ErrChecksum = errors.New("gps: checksum mismatch")

// minEnvelope is the shortest record with a checksum envelope: "$*hh".
const minEnvelope = 4

// ValidChecksum reports whether record is a "$<body>*hh" sentence whose
// trailing hex checksum equals the XOR of the body bytes. Trailing CR,
// LF and NUL bytes are ignored. Malformed input is simply invalid.
func ValidChecksum(record string) bool {
	n := len(record)
	for n > 0 && (record[n-1] == '\r' || record[n-1] == '\n' || record[n-1] == 0) {
		n--
	}
	if n < minEnvelope || record[0] != '$' || record[n-3] != '*' {
		return false
	}
	hi, ok := fromHex(record[n-2])
	if !ok {
		return false
	}
	lo, ok := fromHex(record[n-1])
	if !ok {
		return false
	}
	return Checksum(record[1:n-3]) == hi<<4|lo
}

// Checksum is the NMEA XOR over body, the bytes between '$' and '*'.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// Sentence wraps body into a complete "$body*HH" sentence.
func Sentence(body string) string {
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
