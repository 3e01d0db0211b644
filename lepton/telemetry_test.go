package lepton

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRow() Telemetry {
	row := make(Telemetry, TelemetryWords)
	row[telemFPATempWord] = 30565  // 32.5 C
	row[telemAuxTempWord] = 29815  // 25.0 C
	row[telemGainWord] = 0
	row[telemResolutionWord] = 1
	return row
}

func TestTelemetryTemperatures(t *testing.T) {
	row := testRow()
	assert.InDelta(t, 32.5, row.FPATempC(), 0.01)
	assert.InDelta(t, 25.0, row.AuxTempC(), 0.01)
}

func TestTelemetryGainString(t *testing.T) {
	row := testRow()
	assert.Equal(t, "HIGH", row.GainString())
	row[telemGainWord] = 1
	assert.Equal(t, "LOW", row.GainString())
	row[telemGainWord] = 2
	assert.Equal(t, "UNKNOWN", row.GainString())
}

func TestTelemetryResolutionString(t *testing.T) {
	row := testRow()
	assert.Equal(t, "0.01", row.ResolutionString())
	row[telemResolutionWord] = 0
	assert.Equal(t, "0.1", row.ResolutionString())
}
