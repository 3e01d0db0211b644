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

package main

import (
	"errors"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"
)

type Config struct {
	DeviceName   string `yaml:"device-name"`
	OutputDir    string `yaml:"output-dir"`
	MinDiskSpace uint64 `yaml:"min-disk-space"`
	ListenAddr   string `yaml:"listen-addr"`
	SettingsFile string `yaml:"settings-file"`
	SnapshotDir  string `yaml:"snapshot-dir"`

	ThermalSPI string `yaml:"thermal-spi"`
	VisualSPI  string `yaml:"visual-spi"`
	DisplaySPI string `yaml:"display-spi"`
	I2CBus     string `yaml:"i2c-bus"`

	VsyncPin       string `yaml:"vsync-pin"`
	DisplayDCPin   string `yaml:"display-dc-pin"`
	ButtonPin      string `yaml:"button-pin"`
	LatchPin       string `yaml:"latch-pin"`
	ChargeStat1Pin string `yaml:"charge-stat1-pin"`
	ChargeStat2Pin string `yaml:"charge-stat2-pin"`

	WifiScript string `yaml:"wifi-script"`
}

var defaultConfig = Config{
	DeviceName:   "timelapse",
	OutputDir:    "/media/card/records",
	MinDiskSpace: 200,
	ListenAddr:   ":5001",
	SettingsFile: "/var/lib/timelapse-recorder/settings",
	SnapshotDir:  "/var/spool/timelapse",

	ThermalSPI: "SPI0.0",
	VisualSPI:  "SPI0.1",
	DisplaySPI: "SPI1.0",
	I2CBus:     "1",

	VsyncPin:       "GPIO17",
	DisplayDCPin:   "GPIO25",
	ButtonPin:      "GPIO27",
	LatchPin:       "GPIO22",
	ChargeStat1Pin: "GPIO5",
	ChargeStat2Pin: "GPIO6",
}

func (conf *Config) Validate() error {
	if conf.OutputDir == "" {
		return errors.New("output-dir must be set")
	}
	if conf.ListenAddr == "" {
		return errors.New("listen-addr must be set")
	}
	if conf.SettingsFile == "" {
		return errors.New("settings-file must be set")
	}
	if conf.ThermalSPI == "" && conf.VisualSPI == "" {
		return errors.New("at least one camera must be configured")
	}
	if conf.ThermalSPI != "" && conf.VsyncPin == "" {
		return errors.New("vsync-pin must be set when the thermal camera is configured")
	}
	if conf.DisplaySPI != "" && conf.DisplayDCPin == "" {
		return errors.New("display-dc-pin must be set when the display is configured")
	}
	return nil
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
