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

package lepton

// Telemetry row word offsets, from the sensor datasheet. Temperatures
// are centi-kelvin.
const (
	telemStatusWord     = 3
	telemFPATempWord    = 24
	telemAuxTempWord    = 26
	telemResolutionWord = 49
	telemGainWord       = 50
)

// Telemetry is one raw telemetry row as captured from the stream. It is
// stored in record files verbatim; the accessors decode only the words
// the recorder itself reports.
type Telemetry []uint16

func centiKelvinToC(ck uint16) float64 {
	return float64(ck)/100.0 - 273.15
}

// FPATempC returns the focal plane array temperature in degrees C.
func (t Telemetry) FPATempC() float64 {
	return centiKelvinToC(t[telemFPATempWord])
}

// AuxTempC returns the sensor housing temperature in degrees C.
func (t Telemetry) AuxTempC() float64 {
	return centiKelvinToC(t[telemAuxTempWord])
}

// GainString reports the effective gain state the sensor was in when the
// frame was produced. Auto gain resolves to one of the two real states;
// anything else in the row decodes as UNKNOWN.
func (t Telemetry) GainString() string {
	switch t[telemGainWord] {
	case 0:
		return "HIGH"
	case 1:
		return "LOW"
	}
	return "UNKNOWN"
}

// ResolutionString reports the radiometric output resolution in degrees
// per count, as a string for the record metadata.
func (t Telemetry) ResolutionString() string {
	if t[telemResolutionWord] == 1 {
		return "0.01"
	}
	return "0.1"
}
