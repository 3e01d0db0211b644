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

import (
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// StreamClock is the SPI clock for the video stream. Fast enough to
// drain a segment well inside one stream period.
const StreamClock = 20 * physic.MegaHertz

// SPISource reads stream packets from an SPI port.
type SPISource struct {
	conn spi.Conn
}

// NewSPISource configures port for the sensor's stream (mode 3, 8-bit
// words) and returns a packet source on it.
func NewSPISource(port spi.Port) (*SPISource, error) {
	conn, err := port.Connect(StreamClock, spi.Mode3, 8)
	if err != nil {
		return nil, err
	}
	return &SPISource{conn: conn}, nil
}

func (s *SPISource) ReadPacket(p []byte) error {
	return s.conn.Tx(nil, p)
}
