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

import (
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// Panel controller commands.
const (
	cmdColumnSet = 0x2a
	cmdRowSet    = 0x2b
	cmdRAMWrite  = 0x2c

	// flushChunk keeps individual SPI transfers under the kernel
	// driver's transfer size limit.
	flushChunk = 4096

	panelClock = 16 * physic.MegaHertz
)

// SPIFramebuffer drives a small SPI TFT panel. The D/C pin selects
// between command and pixel bytes. Callers hold the shared bus lock
// around Flush.
type SPIFramebuffer struct {
	conn spi.Conn
	dc   gpio.PinOut
	buf  []byte
}

func NewSPIFramebuffer(port spi.Port, dc gpio.PinOut) (*SPIFramebuffer, error) {
	conn, err := port.Connect(panelClock, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}
	return &SPIFramebuffer{
		conn: conn,
		dc:   dc,
		buf:  make([]byte, 2*Width*Height),
	}, nil
}

func (fb *SPIFramebuffer) Flush(pix []uint16) error {
	if err := fb.setWindow(); err != nil {
		return err
	}
	for i, p := range pix {
		fb.buf[2*i] = byte(p >> 8)
		fb.buf[2*i+1] = byte(p)
	}
	return fb.data(fb.buf)
}

func (fb *SPIFramebuffer) setWindow() error {
	if err := fb.command(cmdColumnSet, 0, 0, 0, Width-1); err != nil {
		return err
	}
	if err := fb.command(cmdRowSet, 0, 0, 0, Height-1); err != nil {
		return err
	}
	return fb.command(cmdRAMWrite)
}

func (fb *SPIFramebuffer) command(cmd byte, args ...byte) error {
	if err := fb.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := fb.conn.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	return fb.data(args)
}

func (fb *SPIFramebuffer) data(p []byte) error {
	if err := fb.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(p) > 0 {
		n := len(p)
		if n > flushChunk {
			n = flushChunk
		}
		if err := fb.conn.Tx(p[:n], nil); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
