// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	ggaBody = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	rmcBody = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
)

func TestValidChecksum_KnownSentence(t *testing.T) {
	assert.True(t, ValidChecksum("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"))
}

func TestValidChecksum_CaseInsensitiveHex(t *testing.T) {
	line := Sentence(rmcBody)
	assert.True(t, ValidChecksum(line))
	assert.True(t, ValidChecksum(line[:len(line)-2]+strings.ToLower(line[len(line)-2:])))
}

func TestValidChecksum_IgnoresLineEnd(t *testing.T) {
	assert.True(t, ValidChecksum(Sentence(ggaBody)+"\r\n"))
	assert.True(t, ValidChecksum(Sentence(ggaBody)+"\x00"))
}

func TestValidChecksum_Mismatch(t *testing.T) {
	good := Sentence(ggaBody)
	assert.False(t, ValidChecksum(good[:len(good)-2]+"00"))

	// one flipped body byte
	bad := []byte(good)
	bad[10] ^= 0x01
	assert.False(t, ValidChecksum(string(bad)))
}

func TestValidChecksum_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"$",
		"$*",
		"$*0",
		"*00",
		"GPGGA,1*00",
		"$GPGGA,1",
		"$GPGGA,1*",
		"$GPGGA,1*G0",
		"$GPGGA,1*0",
		"$GPGGA,1*000",
	} {
		assert.False(t, ValidChecksum(in), "input %q", in)
	}
}

func TestValidChecksum_EmptyBody(t *testing.T) {
	assert.True(t, ValidChecksum("$*00"))
}

func TestChecksum_EveryByteContributes(t *testing.T) {
	for i := 0; i < 256; i++ {
		body := "GP" + string([]byte{byte(i)})
		want := byte('G') ^ byte('P') ^ byte(i)
		assert.Equal(t, want, Checksum(body))
	}
}
