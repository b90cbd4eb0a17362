package gps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFix_RMC(t *testing.T) {
	fix, err := DecodeFix(Sentence(rmcBody))
	require.NoError(t, err)
	assert.Equal(t, "RMC", fix.Kind)
	assert.Equal(t, "A", fix.Validity)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, fix.Longitude, 1e-4)
	assert.InDelta(t, 22.4, fix.SpeedKnots, 1e-9)
}

func TestDecodeFix_GGA(t *testing.T) {
	fix, err := DecodeFix(Sentence(ggaBody))
	require.NoError(t, err)
	assert.Equal(t, "GGA", fix.Kind)
	assert.Equal(t, int64(8), fix.Satellites)
	assert.InDelta(t, 545.4, fix.AltitudeM, 1e-9)
}

func TestDecodeFix_Rejects(t *testing.T) {
	_, err := DecodeFix("$GPGGA,garbage*00")
	assert.Error(t, err)

	_, err = DecodeFix(Sentence("GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1"))
	assert.Error(t, err)
}
