package bundle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := &Bundle{
		Metadata: Metadata{
			Camera:         "TLR-CAM-7A21",
			Version:        "1.2.0",
			SequenceNumber: 12,
			Battery:        3.91,
			Charge:         "ON",
			FPATemp:        floatPtr(32.4),
			AuxTemp:        floatPtr(30.1),
			LensTemp:       floatPtr(28.9),
			GainMode:       "HIGH",
			Resolution:     "0.01",
		},
		JPEG: []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9},
	}
	b.Metadata.SetClock(time.Date(2022, 3, 4, 9, 5, 7, 0, time.Local))
	b.SetRadiometric([]uint16{0, 1, 0x1234, 0xffff})
	b.SetTelemetry([]uint16{7, 8, 9})

	data, err := Encode(b)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b.Metadata, got.Metadata)
	assert.Equal(t, b.JPEG, got.JPEG)

	pix, err := got.RadiometricPixels()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 0x1234, 0xffff}, pix)

	words, err := got.TelemetryWords()
	require.NoError(t, err)
	assert.Equal(t, []uint16{7, 8, 9}, words)
}

func TestMetadataOnlyRecordOmitsImages(t *testing.T) {
	b := &Bundle{Metadata: Metadata{Camera: "cam", SequenceNumber: 1, Charge: "OFF"}}
	data, err := Encode(b)
	require.NoError(t, err)

	var top map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &top))
	assert.Contains(t, top, "metadata")
	assert.NotContains(t, top, "jpeg")
	assert.NotContains(t, top, "radiometric")
	assert.NotContains(t, top, "telemetry")
}

func TestMetadataFieldNames(t *testing.T) {
	b := &Bundle{Metadata: Metadata{
		Camera:     "cam",
		FPATemp:    floatPtr(1),
		AuxTemp:    floatPtr(2),
		LensTemp:   floatPtr(3),
		GainMode:   "LOW",
		Resolution: "0.1",
	}}
	data, err := Encode(b)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(top["metadata"], &meta))

	for _, key := range []string{
		"Camera", "Version", "Sequence Number", "Time", "Date",
		"Battery", "Charge", "FPA Temp", "AUX Temp", "Lens Temp",
		"Lepton Gain Mode", "Lepton Resolution",
	} {
		assert.Contains(t, meta, key)
	}
}

func TestThermalMetadataOmittedWithoutThermal(t *testing.T) {
	b := &Bundle{Metadata: Metadata{Camera: "cam"}}
	data, err := Encode(b)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(top["metadata"], &meta))
	assert.NotContains(t, meta, "FPA Temp")
	assert.NotContains(t, meta, "Lepton Gain Mode")
}

func TestSetClockFormats(t *testing.T) {
	var m Metadata
	m.SetClock(time.Date(2023, 11, 9, 7, 4, 2, 0, time.Local))
	assert.Equal(t, "7:04:02", m.Time)
	assert.Equal(t, "11/9/23", m.Date)
}

func TestDecodeRejectsOddRadiometricLength(t *testing.T) {
	b := &Bundle{Radiometric: []byte{1, 2, 3}}
	_, err := b.RadiometricPixels()
	assert.Error(t, err)
}
