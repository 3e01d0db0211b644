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
	"fmt"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Command-and-control register map and the command words this recorder
// uses. Command word = module base | command ID | direction bit.
const (
	cciAddr = 0x2a

	regStatus  = 0x0002
	regCommand = 0x0004
	regDataLen = 0x0006
	regData0   = 0x0008

	cmdGet = 0x0
	cmdSet = 0x1

	cmdAGCEnable      = 0x0100
	cmdSysTelemetry   = 0x0218
	cmdSysGainMode    = 0x0248
	cmdOEMGPIOMode    = 0x4854
	cmdRadEnable      = 0x4e10
	cmdRadTLinear     = 0x4ec0
	cmdRadTLinearAuto = 0x4ec8

	gpioModeVsync = 5

	cciBusyBit  = 0x0001
	cciBootBit  = 0x0004
	cciPollWait = 2 * time.Millisecond
	cciPolls    = 100
)

// I2CCCI drives the sensor's command-and-control interface over I2C.
type I2CCCI struct {
	dev i2c.Dev
}

func NewI2CCCI(bus i2c.Bus) *I2CCCI {
	return &I2CCCI{dev: i2c.Dev{Bus: bus, Addr: cciAddr}}
}

// Apply writes cfg to the sensor, one attribute at a time. Gain is
// written last so a sensor reboot mid-sequence fails loudly on the
// attributes that matter most for image validity.
func (c *I2CCCI) Apply(cfg Config) error {
	writes := []struct {
		cmd   uint16
		value uint32
	}{
		{cmdRadEnable, boolWord(cfg.Radiometry)},
		{cmdRadTLinear, boolWord(cfg.TLinear)},
		{cmdRadTLinearAuto, boolWord(cfg.AutoResolution)},
		{cmdAGCEnable, boolWord(cfg.AGC)},
		{cmdSysTelemetry, boolWord(cfg.Telemetry)},
		{cmdOEMGPIOMode, gpioWord(cfg.VsyncOutput)},
		{cmdSysGainMode, uint32(cfg.Gain)},
	}
	for _, w := range writes {
		if err := c.set(w.cmd, w.value); err != nil {
			return fmt.Errorf("sensor command 0x%04x: %v", w.cmd, err)
		}
	}
	return nil
}

// ReadConfig reads back the attributes Apply writes.
func (c *I2CCCI) ReadConfig() (Config, error) {
	var cfg Config
	reads := []struct {
		cmd  uint16
		into func(uint32)
	}{
		{cmdRadEnable, func(v uint32) { cfg.Radiometry = v != 0 }},
		{cmdRadTLinear, func(v uint32) { cfg.TLinear = v != 0 }},
		{cmdRadTLinearAuto, func(v uint32) { cfg.AutoResolution = v != 0 }},
		{cmdAGCEnable, func(v uint32) { cfg.AGC = v != 0 }},
		{cmdSysTelemetry, func(v uint32) { cfg.Telemetry = v != 0 }},
		{cmdOEMGPIOMode, func(v uint32) { cfg.VsyncOutput = v == gpioModeVsync }},
		{cmdSysGainMode, func(v uint32) { cfg.Gain = GainMode(v) }},
	}
	for _, r := range reads {
		v, err := c.get(r.cmd)
		if err != nil {
			return Config{}, fmt.Errorf("sensor command 0x%04x: %v", r.cmd, err)
		}
		r.into(v)
	}
	return cfg, nil
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func gpioWord(vsync bool) uint32 {
	if vsync {
		return gpioModeVsync
	}
	return 0
}

func (c *I2CCCI) set(cmd uint16, value uint32) error {
	if err := c.waitReady(); err != nil {
		return err
	}
	if err := c.writeReg(regData0, uint16(value>>16), uint16(value)); err != nil {
		return err
	}
	if err := c.writeReg(regDataLen, 2); err != nil {
		return err
	}
	if err := c.writeReg(regCommand, cmd|cmdSet); err != nil {
		return err
	}
	return c.waitReady()
}

func (c *I2CCCI) get(cmd uint16) (uint32, error) {
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	if err := c.writeReg(regDataLen, 2); err != nil {
		return 0, err
	}
	if err := c.writeReg(regCommand, cmd|cmdGet); err != nil {
		return 0, err
	}
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	words, err := c.readReg(regData0, 2)
	if err != nil {
		return 0, err
	}
	return uint32(words[0])<<16 | uint32(words[1]), nil
}

// waitReady polls until the sensor reports booted and not busy, then
// checks the previous command's response code.
func (c *I2CCCI) waitReady() error {
	for i := 0; i < cciPolls; i++ {
		words, err := c.readReg(regStatus, 1)
		if err != nil {
			return err
		}
		status := words[0]
		if status&cciBootBit != 0 && status&cciBusyBit == 0 {
			if code := int8(status >> 8); code != 0 {
				return fmt.Errorf("response code %d", code)
			}
			return nil
		}
		time.Sleep(cciPollWait)
	}
	return fmt.Errorf("busy timeout")
}

func (c *I2CCCI) writeReg(reg uint16, words ...uint16) error {
	buf := make([]byte, 2+2*len(words))
	buf[0] = byte(reg >> 8)
	buf[1] = byte(reg)
	for i, w := range words {
		buf[2+2*i] = byte(w >> 8)
		buf[3+2*i] = byte(w)
	}
	return c.dev.Tx(buf, nil)
}

func (c *I2CCCI) readReg(reg uint16, n int) ([]uint16, error) {
	addr := []byte{byte(reg >> 8), byte(reg)}
	raw := make([]byte, 2*n)
	if err := c.dev.Tx(addr, raw); err != nil {
		return nil, err
	}
	words := make([]uint16, n)
	for i := range words {
		words[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return words, nil
}
