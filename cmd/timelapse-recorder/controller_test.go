package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openthermal/timelapse-recorder/responder"
	"github.com/openthermal/timelapse-recorder/settings"
)

func boolp(v bool) *bool    { return &v }
func strp(s string) *string { return &s }
func intp(v int) *int       { return &v }

func baseCamState() settings.CameraState {
	return settings.CameraState{
		RecordVisual:  true,
		RecordThermal: true,
		Gain:          settings.GainHigh,
		Palette:       "Fusion",
		IntervalSecs:  5,
	}
}

func TestMergeCameraConfigPartial(t *testing.T) {
	out := mergeCameraConfig(baseCamState(), responder.ConfigPayload{
		IntervalSecs: intp(30),
	})

	assert.Equal(t, 30, out.IntervalSecs)
	assert.True(t, out.RecordVisual)
	assert.True(t, out.RecordThermal)
	assert.Equal(t, settings.GainHigh, out.Gain)
	assert.Equal(t, "Fusion", out.Palette)
}

func TestMergeCameraConfigAllFields(t *testing.T) {
	out := mergeCameraConfig(baseCamState(), responder.ConfigPayload{
		RecordVisual:  boolp(false),
		RecordThermal: boolp(false),
		GainMode:      strp("low"),
		Palette:       strp("Rainbow"),
		IntervalSecs:  intp(60),
	})

	assert.Equal(t, settings.CameraState{
		Gain:         settings.GainLow,
		Palette:      "Rainbow",
		IntervalSecs: 60,
	}, out)
}

func TestMergeCameraConfigUnknownGainClampsToAuto(t *testing.T) {
	out := mergeCameraConfig(baseCamState(), responder.ConfigPayload{
		GainMode:     strp("TURBO"),
		IntervalSecs: intp(10),
	})

	// the bad gain must not drop the rest of the command
	assert.Equal(t, settings.GainAuto, out.Gain)
	assert.Equal(t, 10, out.IntervalSecs)
	assert.Equal(t, "Fusion", out.Palette)
}
