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

// Package power watches the battery, the charger and the power button,
// and holds the soft power latch that keeps the board alive.
package power

import (
	"log"

	"periph.io/x/periph/conn/gpio"
)

// CriticalVolts is the pack voltage below which the recorder shuts
// itself down rather than brown out mid-write.
const CriticalVolts = 3.4

// ChargeState is the charger's reported state.
type ChargeState int

const (
	ChargeOff ChargeState = iota
	ChargeOn
	ChargeFault
)

func (c ChargeState) String() string {
	switch c {
	case ChargeOff:
		return "OFF"
	case ChargeOn:
		return "ON"
	case ChargeFault:
		return "FAULT"
	}
	return "FAULT"
}

// Gauge reads the battery fuel gauge.
type Gauge interface {
	BatteryVolts() (float64, error)
}

// ChargeSource reads the charger state.
type ChargeSource interface {
	Charge() (ChargeState, error)
}

// ChargerPins decodes a two-pin charger status interface. Both status
// outputs are open drain, active low.
type ChargerPins struct {
	Stat1 gpio.PinIn // low while charging
	Stat2 gpio.PinIn // low when charge complete
}

func (c *ChargerPins) Charge() (ChargeState, error) {
	s1 := c.Stat1.Read() == gpio.Low
	s2 := c.Stat2.Read() == gpio.Low
	switch {
	case s1 && s2:
		return ChargeFault, nil
	case s1:
		return ChargeOn, nil
	default:
		return ChargeOff, nil
	}
}

// Supply caches the last good readings so a transient gauge glitch
// never blanks the record metadata.
type Supply struct {
	gauge   Gauge
	charger ChargeSource

	volts  float64
	charge ChargeState
}

func NewSupply(gauge Gauge, charger ChargeSource) *Supply {
	return &Supply{gauge: gauge, charger: charger}
}

// Read refreshes and returns the battery voltage and charge state.
func (s *Supply) Read() (float64, ChargeState) {
	if s.gauge != nil {
		if v, err := s.gauge.BatteryVolts(); err != nil {
			log.Printf("battery gauge: %v", err)
		} else {
			s.volts = v
		}
	}
	if s.charger != nil {
		if c, err := s.charger.Charge(); err != nil {
			log.Printf("charger state: %v", err)
		} else {
			s.charge = c
		}
	}
	return s.volts, s.charge
}

// Critical reports whether the last reading was below the shutdown
// threshold. A pack on the charger is never critical.
func (s *Supply) Critical() bool {
	return s.volts > 0 && s.volts < CriticalVolts && s.charge != ChargeOn
}

// Latch drives the soft power hold line. The button powers the board
// up; Hold keeps it up, Release lets the supply collapse once shutdown
// is complete.
type Latch struct {
	Pin gpio.PinOut
}

func (l *Latch) Hold() error {
	return l.Pin.Out(gpio.High)
}

func (l *Latch) Release() error {
	return l.Pin.Out(gpio.Low)
}
