// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// SimulatorPort is the GPS_SERIAL_PORT value that selects the simulator.
const SimulatorPort = "sim"

const (
	simRadiusDeg = 0.001           // ~110 m
	simPeriod    = 2 * time.Minute // one lap
	mPerDeg      = 111320.0
	knotsPerMS   = 1.943844
)

// Simulator stands in for a receiver on the bench. Every Read returns NMEA
// output for a track circling a fixed point, one GGA and one RMC sentence
// per call, stamped with the current time.
type Simulator struct {
	lat, lon float64
	start    time.Time
	buf      bytes.Buffer

	// Now is the simulator clock; tests replace it.
	Now func() time.Time
}

// NewSimulator circles the point lat, lon (decimal degrees).
func NewSimulator(lat, lon float64) *Simulator {
	return &Simulator{lat: lat, lon: lon, start: time.Now(), Now: time.Now}
}

func (s *Simulator) Read(p []byte) (int, error) {
	if s.buf.Len() == 0 {
		gga, rmc := s.Sentences(s.Now())
		s.buf.WriteString(gga + "\r\n" + rmc + "\r\n")
	}
	return s.buf.Read(p)
}

func (s *Simulator) Write(p []byte) (int, error) { return len(p), nil }
func (s *Simulator) Close() error                { return nil }

// Sentences returns the GGA and RMC sentences for time t.
func (s *Simulator) Sentences(t time.Time) (gga, rmc string) {
	t = t.UTC()
	angle := 2 * math.Pi * t.Sub(s.start).Seconds() / simPeriod.Seconds()
	lat := s.lat + simRadiusDeg*math.Sin(angle)
	lon := s.lon + simRadiusDeg*math.Cos(angle)

	speed := 2 * math.Pi * simRadiusDeg * mPerDeg / simPeriod.Seconds() * knotsPerMS
	course := math.Mod(360-angle*180/math.Pi, 360)
	if course < 0 {
		course += 360
	}

	clock := t.Format("150405") + ".00"
	gga = Sentence(fmt.Sprintf("GPGGA,%s,%s,%s,1,08,0.9,545.4,M,46.9,M,,",
		clock, coord(lat, 2, "N", "S"), coord(lon, 3, "E", "W")))
	rmc = Sentence(fmt.Sprintf("GPRMC,%s,A,%s,%s,%05.1f,%05.1f,%s,003.1,W",
		clock, coord(lat, 2, "N", "S"), coord(lon, 3, "E", "W"), speed, course, t.Format("020106")))
	return gga, rmc
}

// coord formats decimal degrees as NMEA (d)ddmm.mmmm,H.
func coord(v float64, degDigits int, pos, neg string) string {
	hemi := pos
	if v < 0 {
		hemi, v = neg, -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f,%s", degDigits, int(deg), minutes, hemi)
}
