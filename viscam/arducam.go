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

package viscam

import (
	"fmt"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// ArduCAM Mini SPI register map, the subset this recorder touches.
const (
	regTest     = 0x00
	regFIFOCtl  = 0x04
	regBurst    = 0x3c
	regTrig     = 0x41
	regFIFOLen1 = 0x42

	fifoClear = 0x01
	fifoStart = 0x02

	capDoneMask = 0x08

	writeBit = 0x80

	testPattern = 0x55

	// BusClock suits both the camera FIFO and the display controller
	// hanging off the same bus.
	BusClock = 8 * physic.MegaHertz
)

// ArduCam drives an ArduCAM Mini style camera module over SPI. The
// attached sensor is expected to already be configured for JPEG output;
// only the frame buffer side is driven from here.
type ArduCam struct {
	conn spi.Conn
}

func NewArduCam(port spi.Port) (*ArduCam, error) {
	conn, err := port.Connect(BusClock, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}
	return &ArduCam{conn: conn}, nil
}

// Probe checks the SPI link by bouncing a pattern off the test register.
func (a *ArduCam) Probe() error {
	if err := a.writeReg(regTest, testPattern); err != nil {
		return err
	}
	v, err := a.readReg(regTest)
	if err != nil {
		return err
	}
	if v != testPattern {
		return fmt.Errorf("camera test register read 0x%02x, want 0x%02x", v, testPattern)
	}
	return nil
}

func (a *ArduCam) ClearFIFO() error {
	return a.writeReg(regFIFOCtl, fifoClear)
}

func (a *ArduCam) StartCapture() error {
	return a.writeReg(regFIFOCtl, fifoStart)
}

func (a *ArduCam) CaptureDone() (bool, error) {
	v, err := a.readReg(regTrig)
	if err != nil {
		return false, err
	}
	return v&capDoneMask != 0, nil
}

func (a *ArduCam) ImageLen() (int, error) {
	n := 0
	for i := 2; i >= 0; i-- {
		v, err := a.readReg(regFIFOLen1 + byte(i))
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(v)
	}
	// top nibble of the length register is undefined
	return n & 0x7ffff, nil
}

func (a *ArduCam) ReadImage(p []byte) error {
	w := make([]byte, len(p)+1)
	r := make([]byte, len(p)+1)
	w[0] = regBurst
	if err := a.conn.Tx(w, r); err != nil {
		return err
	}
	copy(p, r[1:])
	return nil
}

func (a *ArduCam) writeReg(reg, value byte) error {
	return a.conn.Tx([]byte{reg | writeBit, value}, nil)
}

func (a *ArduCam) readReg(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := a.conn.Tx([]byte{reg, 0}, r); err != nil {
		return 0, err
	}
	return r[1], nil
}
