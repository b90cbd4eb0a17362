package gps

import (
	"fmt"

	nmea "github.com/adrianmo/go-nmea"
)

// Fix represents a single decoded GPS fix suitable for JSON and MQTT.
type Fix struct {
	Kind       string  `json:"kind"`                  // "GGA" or "RMC"
	Time       string  `json:"time"`                  // e.g. "12:34:56.0000"
	Date       string  `json:"date,omitempty"`        // RMC only
	Latitude   float64 `json:"lat"`                   // decimal degrees
	Longitude  float64 `json:"lon"`                   // decimal degrees
	SpeedKnots float64 `json:"speed_knots,omitempty"` // RMC only
	CourseDeg  float64 `json:"course_deg,omitempty"`  // RMC only
	Validity   string  `json:"validity,omitempty"`    // "A" (valid) / "V" (void)
	Quality    string  `json:"quality,omitempty"`     // GGA fix quality
	Satellites int64   `json:"satellites,omitempty"`  // GGA only
	AltitudeM  float64 `json:"alt_m,omitempty"`       // GGA only
}

// DecodeFix decodes a captured GGA or RMC record. Other sentence types are
// rejected.
func DecodeFix(record string) (Fix, error) {
	sentence, err := nmea.Parse(record)
	if err != nil {
		return Fix{}, fmt.Errorf("decode fix: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		return Fix{
			Kind:       RMC.String(),
			Time:       m.Time.String(),
			Date:       m.Date.String(),
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			SpeedKnots: m.Speed,
			CourseDeg:  m.Course,
			Validity:   m.Validity,
		}, nil
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		return Fix{
			Kind:       GGA.String(),
			Time:       m.Time.String(),
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Quality:    m.FixQuality,
			Satellites: m.NumSatellites,
			AltitudeM:  m.Altitude,
		}, nil
	default:
		return Fix{}, fmt.Errorf("decode fix: unsupported sentence %s", sentence.DataType())
	}
}
