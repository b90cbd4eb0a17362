// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// Kind is one of the NMEA sentence kinds the tracker captures.
type Kind int

const (
	GGA Kind = iota // fix data
	RMC             // recommended minimum data
)

// Prefix is the token that starts a sentence of this kind on the wire.
func (k Kind) Prefix() string {
	if k == RMC {
		return "$GPRMC"
	}
	return "$GPGGA"
}

// Property is the live side-channel property name for the kind.
func (k Kind) Property() string {
	if k == RMC {
		return "rmc"
	}
	return "gga"
}

// Next returns the kind captured on the following tick.
func (k Kind) Next() Kind {
	if k == GGA {
		return RMC
	}
	return GGA
}

func (k Kind) String() string {
	if k == RMC {
		return "RMC"
	}
	return "GGA"
}
