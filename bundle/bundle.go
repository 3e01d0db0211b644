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

// Package bundle defines the self-describing record assembled each cycle
// and its on-disk JSON encoding. A bundle always carries metadata; the
// camera sub-objects are present only when that camera produced a fresh
// frame for the cycle.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Metadata is the per-record header. Field names are part of the record
// file format; clients key on them verbatim.
type Metadata struct {
	Camera         string  `json:"Camera"`
	Version        string  `json:"Version"`
	SequenceNumber int     `json:"Sequence Number"`
	Time           string  `json:"Time"`
	Date           string  `json:"Date"`
	Battery        float64 `json:"Battery"`
	Charge         string  `json:"Charge"`

	// Present only when the thermal camera contributed to the record.
	FPATemp    *float64 `json:"FPA Temp,omitempty"`
	AuxTemp    *float64 `json:"AUX Temp,omitempty"`
	LensTemp   *float64 `json:"Lens Temp,omitempty"`
	GainMode   string   `json:"Lepton Gain Mode,omitempty"`
	Resolution string   `json:"Lepton Resolution,omitempty"`
}

// SetClock fills the Time and Date fields from t. Hours and the date are
// unpadded; the two-digit year matches the record format.
func (m *Metadata) SetClock(t time.Time) {
	m.Time = fmt.Sprintf("%d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	m.Date = fmt.Sprintf("%d/%d/%02d", int(t.Month()), t.Day(), t.Year()%100)
}

// Bundle is one record: metadata plus whatever images the cycle yielded.
// The byte fields base64-encode in JSON.
type Bundle struct {
	Metadata    Metadata `json:"metadata"`
	JPEG        []byte   `json:"jpeg,omitempty"`
	Radiometric []byte   `json:"radiometric,omitempty"`
	Telemetry   []byte   `json:"telemetry,omitempty"`
}

// SetRadiometric stores pix as big-endian bytes, two per pixel.
func (b *Bundle) SetRadiometric(pix []uint16) {
	b.Radiometric = wordsToBytes(pix)
}

// SetTelemetry stores the telemetry row as big-endian bytes.
func (b *Bundle) SetTelemetry(words []uint16) {
	b.Telemetry = wordsToBytes(words)
}

// RadiometricPixels decodes the radiometric bytes back into 16-bit
// samples.
func (b *Bundle) RadiometricPixels() ([]uint16, error) {
	return bytesToWords(b.Radiometric)
}

// TelemetryWords decodes the telemetry bytes back into 16-bit words.
func (b *Bundle) TelemetryWords() ([]uint16, error) {
	return bytesToWords(b.Telemetry)
}

// Encode renders the bundle as the record file's pretty-printed JSON.
func Encode(b *Bundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "\t")
}

// Decode parses a record file.
func Decode(data []byte) (*Bundle, error) {
	b := new(Bundle)
	if err := json.Unmarshal(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

func wordsToBytes(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		out[2*i] = byte(w >> 8)
		out[2*i+1] = byte(w)
	}
	return out
}

func bytesToWords(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, errors.New("odd byte count for 16-bit samples")
	}
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out, nil
}
