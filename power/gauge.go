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

package power

import "periph.io/x/periph/conn/i2c"

// MAX17048 fuel gauge.
const (
	gaugeAddr   = 0x36
	regVCell    = 0x02
	vcellPerLSB = 78.125e-6
)

// I2CGauge reads pack voltage from the fuel gauge.
type I2CGauge struct {
	dev i2c.Dev
}

func NewI2CGauge(bus i2c.Bus) *I2CGauge {
	return &I2CGauge{dev: i2c.Dev{Bus: bus, Addr: gaugeAddr}}
}

func (g *I2CGauge) BatteryVolts() (float64, error) {
	raw := make([]byte, 2)
	if err := g.dev.Tx([]byte{regVCell}, raw); err != nil {
		return 0, err
	}
	counts := uint16(raw[0])<<8 | uint16(raw[1])
	return float64(counts) * vcellPerLSB, nil
}
