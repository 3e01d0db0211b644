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

// Package display renders the live preview. It draws either the latest
// visual JPEG or a palette-mapped thermal frame. Rendering happens off
// the shared bus; only the final pixel flush takes the bus lock.
package display

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"
)

// Preview panel geometry, fixed by the hardware.
const (
	Width  = 160
	Height = 120
)

// Framebuffer pushes one full screen of RGB565 pixels, row major.
type Framebuffer interface {
	Flush(pix []uint16) error
}

// Display converts frames to panel pixels. Not safe for concurrent use;
// the pacing loop is the only caller.
type Display struct {
	fb      Framebuffer
	bus     *sync.Mutex
	palette *Palette
	pix     [Width * Height]uint16
}

// New returns a display on fb. bus serializes the flush with the camera
// sharing the transport.
func New(fb Framebuffer, bus *sync.Mutex) *Display {
	return &Display{
		fb:      fb,
		bus:     bus,
		palette: palettes["White Hot"],
	}
}

// SetPalette selects the thermal palette by name.
func (d *Display) SetPalette(name string) error {
	p, err := PaletteByName(name)
	if err != nil {
		return err
	}
	d.palette = p
	return nil
}

// ShowJPEG decodes and draws a visual frame, resampling to the panel
// size when the camera is configured for a different resolution.
func (d *Display) ShowJPEG(data []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode preview: %v", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("decode preview: empty image")
	}
	for y := 0; y < Height; y++ {
		sy := b.Min.Y + y*b.Dy()/Height
		for x := 0; x < Width; x++ {
			sx := b.Min.X + x*b.Dx()/Width
			r, g, bl, _ := img.At(sx, sy).RGBA()
			d.pix[y*Width+x] = rgb565(rgb{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8)})
		}
	}
	return d.flush()
}

// ShowThermal maps raw samples onto the panel through the current
// palette, stretching [min,max] over the full intensity range. A flat
// frame renders as all zero intensity.
func (d *Display) ShowThermal(samples []uint16, min, max uint16) error {
	if len(samples) != Width*Height {
		return fmt.Errorf("thermal frame is %d samples, want %d", len(samples), Width*Height)
	}
	span := int(max) - int(min)
	for i, s := range samples {
		var level int
		if span > 0 {
			level = (int(s) - int(min)) * 255 / span
			if level < 0 {
				level = 0
			} else if level > 255 {
				level = 255
			}
		}
		d.pix[i] = d.palette[level]
	}
	return d.flush()
}

func (d *Display) flush() error {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.fb.Flush(d.pix[:])
}

// NullFramebuffer discards frames. Used when the recorder runs
// headless.
type NullFramebuffer struct{}

func (NullFramebuffer) Flush([]uint16) error { return nil }
