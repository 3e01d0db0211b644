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

package display

import "fmt"

// Palette maps an 8-bit thermal intensity to an RGB565 pixel.
type Palette [256]uint16

type rgb struct {
	r, g, b uint8
}

func rgb565(c rgb) uint16 {
	return uint16(c.r>>3)<<11 | uint16(c.g>>2)<<5 | uint16(c.b>>3)
}

// gradient builds a palette by linear interpolation between evenly
// spaced control points.
func gradient(points ...rgb) *Palette {
	var p Palette
	spans := len(points) - 1
	for i := 0; i < 256; i++ {
		pos := float64(i) / 255 * float64(spans)
		span := int(pos)
		if span == spans {
			span--
		}
		frac := pos - float64(span)
		a, b := points[span], points[span+1]
		p[i] = rgb565(rgb{
			r: lerp(a.r, b.r, frac),
			g: lerp(a.g, b.g, frac),
			b: lerp(a.b, b.b, frac),
		})
	}
	return &p
}

func lerp(a, b uint8, frac float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*frac)
}

var palettes = map[string]*Palette{
	"White Hot": gradient(rgb{0, 0, 0}, rgb{255, 255, 255}),
	"Black Hot": gradient(rgb{255, 255, 255}, rgb{0, 0, 0}),
	"Fusion": gradient(
		rgb{0, 0, 0}, rgb{32, 0, 96}, rgb{160, 0, 128},
		rgb{255, 96, 0}, rgb{255, 224, 32}, rgb{255, 255, 255}),
	"Rainbow": gradient(
		rgb{0, 0, 160}, rgb{0, 224, 224}, rgb{0, 192, 0},
		rgb{224, 224, 0}, rgb{208, 0, 0}),
	"Arctic": gradient(
		rgb{16, 16, 96}, rgb{0, 160, 224}, rgb{240, 240, 240},
		rgb{255, 224, 64}),
}

// PaletteByName returns the named palette.
func PaletteByName(name string) (*Palette, error) {
	p, ok := palettes[name]
	if !ok {
		return nil, fmt.Errorf("unknown palette %q", name)
	}
	return p, nil
}
