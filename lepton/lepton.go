// timelapse-recorder - paired visual/thermal timelapse recording
//  Copyright (C) 2022, The Openthermal Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package lepton acquires radiometric frames from the thermal imager's
// segmented video stream. The imager emits fixed-length packets at a
// hard real-time cadence; this package resynchronizes with the stream,
// assembles whole frames plus the telemetry row, and verifies the sensor
// configuration after a (re)configuration attempt.
//
// The register-level camera control interface and the SPI transport are
// supplied by the caller; this package owns only the stream protocol.
package lepton

// Frame geometry. A frame is four segments, each a quarter of the image;
// every packet carries half a row of pixels.
const (
	FrameCols = 160
	FrameRows = 120
	NumPixels = FrameCols * FrameRows

	// PacketLen is the packed VoSPI packet size: 2 ID bytes, 2 CRC
	// bytes, then 80 big-endian pixel words.
	PacketLen      = 164
	packetHeader   = 4
	pixelsPerLine  = FrameCols / 2
	linesPerSeg    = 60
	rowsPerSegment = FrameRows / 4
	numSegments    = 4

	// segmentLine is the packet line whose header carries the segment
	// index in its high nibble.
	segmentLine = 20

	// telemetryLine is the extra packet appended to each segment when
	// the telemetry row is enabled.
	telemetryLine = 60

	// TelemetryWords is the length of the telemetry row.
	TelemetryWords = pixelsPerLine
)

// GainMode is the sensor gain state as written over the control
// interface.
type GainMode byte

const (
	GainHigh GainMode = 0
	GainLow  GainMode = 1
	GainAuto GainMode = 2
)

func (g GainMode) String() string {
	switch g {
	case GainHigh:
		return "HIGH"
	case GainLow:
		return "LOW"
	case GainAuto:
		return "AUTO"
	}
	return "UNKNOWN"
}

// Config is the sensor configuration this recorder depends on. The
// imager occasionally comes out of a cold start with stale settings, so
// the grabber re-reads and verifies these after configuration.
type Config struct {
	Radiometry     bool
	TLinear        bool
	AutoResolution bool
	AGC            bool
	Telemetry      bool
	Gain           GainMode
	VsyncOutput    bool
}

/// DefaultConfig is the configuration applied at startup: radiometric
// T-linear output with auto resolution, AGC off, telemetry and VSYNC on.
func DefaultConfig(gain GainMode) Config {
	return Config{
		Radiometry:     true,
		TLinear:        true,
		AutoResolution: true,
		AGC:            false,
		Telemetry:      true,
		Gain:           gain,
		VsyncOutput:    true,
	}
}

// CCI is the sensor's command-and-control interface. Implementations
// guard their own I2C transactions.
type CCI interface {
	Apply(Config) error
	ReadConfig() (Config, error)
}

// PacketSource reads one stream packet into p. p is always PacketLen
// bytes. Implementations guard their own SPI transactions.
type PacketSource interface {
	ReadPacket(p []byte) error
}
