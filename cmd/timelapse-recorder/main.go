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
	"fmt"
	"log"
	"sync"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/openthermal/timelapse-recorder/coordinator"
	"github.com/openthermal/timelapse-recorder/display"
	"github.com/openthermal/timelapse-recorder/lepton"
	"github.com/openthermal/timelapse-recorder/power"
	"github.com/openthermal/timelapse-recorder/recorder"
	"github.com/openthermal/timelapse-recorder/responder"
	"github.com/openthermal/timelapse-recorder/settings"
	"github.com/openthermal/timelapse-recorder/slots"
	"github.com/openthermal/timelapse-recorder/viscam"
)

const watchdogInterval = 5 * time.Second

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/timelapse-recorder.yaml"
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("running version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	log.Print("host initialisation")
	if _, err := host.Init(); err != nil {
		return err
	}

	latch, err := holdPowerLatch(conf.LatchPin)
	if err != nil {
		return err
	}

	st, err := settings.Load(&settings.FileStore{Path: conf.SettingsFile})
	if err != nil {
		return err
	}
	camState := st.Camera()

	var i2cBus i2c.Bus
	if conf.I2CBus != "" {
		i2cBus, err = i2creg.Open(conf.I2CBus)
		if err != nil {
			return fmt.Errorf("opening I2C bus %q: %v", conf.I2CBus, err)
		}
	}

	var thermal coordinator.ThermalSource
	if conf.ThermalSPI != "" {
		grab, err := openThermal(conf, i2cBus, lepton.GainMode(camState.Gain))
		if err != nil {
			return err
		}
		thermal = grab
	}

	// The visual camera and the display hang off the same SPI bus with
	// separate chip selects; the mutex keeps their transfers apart.
	spiBus := new(sync.Mutex)

	var visual coordinator.VisualSource
	if conf.VisualSPI != "" {
		grab, err := openVisual(conf, spiBus)
		if err != nil {
			return err
		}
		visual = grab
	}

	var disp *display.Display
	var farewell func()
	if conf.DisplaySPI != "" {
		disp, err = openDisplay(conf, spiBus, camState.Palette)
		if err != nil {
			return err
		}
		farewell = func() { blankScreen(disp) }
	}

	var supply *power.Supply
	if i2cBus != nil {
		charger, err := openCharger(conf)
		if err != nil {
			return err
		}
		supply = power.NewSupply(power.NewI2CGauge(i2cBus), charger)
	}

	storage := &recorder.DirStorage{Dir: conf.OutputDir}

	coord := coordinator.New(coordinator.Config{
		DeviceName: conf.DeviceName,
		Version:    version,

		Visual:  visual,
		Thermal: thermal,
		VSlot:   slots.NewVSlot(viscam.MaxJPEGLen),
		TSlot:   slots.NewTSlot(lepton.NumPixels, lepton.TelemetryWords),

		Recorder: recorder.NewFileRecorder(storage, conf.MinDiskSpace),
		Storage:  storage,
		Display:  displaySink(disp),
		Settings: st,
		Supply:   supply,
		Notifier: newLogNotifier(),
		System:   &hostControl{latch: latch},
		Network:  networkControl(conf.WifiScript),

		Watchdog: newWatchdogPing(),
		Farewell: farewell,
	})

	if conf.ButtonPin != "" {
		btn, err := openButton(conf.ButtonPin, coord.RequestShutdown)
		if err != nil {
			return err
		}
		go btn.Run()
		defer btn.Stop()
	}

	log.Print("starting d-bus service")
	if err := startService(coord, conf.SnapshotDir); err != nil {
		return err
	}

	log.Printf("listening on %s", conf.ListenAddr)
	server, err := responder.Listen(conf.ListenAddr, &control{
		coord:   coord,
		name:    conf.DeviceName,
		version: version,
	})
	if err != nil {
		return err
	}
	defer server.Close()
	go func() {
		if err := server.Run(); err != nil {
			log.Printf("responder stopped: %v", err)
		}
	}()

	daemon.SdNotify(false, "READY=1")
	return coord.Run()
}

func openThermal(conf *Config, bus i2c.Bus, gain lepton.GainMode) (*lepton.Grabber, error) {
	if bus == nil {
		return nil, fmt.Errorf("thermal camera needs i2c-bus for sensor control")
	}
	port, err := spireg.Open(conf.ThermalSPI)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %v", conf.ThermalSPI, err)
	}
	src, err := lepton.NewSPISource(port)
	if err != nil {
		return nil, err
	}
	vsync := gpioreg.ByName(conf.VsyncPin)
	if vsync == nil {
		return nil, fmt.Errorf("unknown pin %q", conf.VsyncPin)
	}
	if err := vsync.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, err
	}
	grab := lepton.NewGrabber(src, vsync, lepton.NewI2CCCI(bus), lepton.DefaultConfig(gain))
	log.Print("configuring thermal sensor")
	if err := grab.Configure(); err != nil {
		return nil, fmt.Errorf("thermal sensor: %v", err)
	}
	return grab, nil
}

func openVisual(conf *Config, bus *sync.Mutex) (*viscam.Grabber, error) {
	port, err := spireg.Open(conf.VisualSPI)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %v", conf.VisualSPI, err)
	}
	cam, err := viscam.NewArduCam(port)
	if err != nil {
		return nil, err
	}
	log.Print("probing visual camera")
	if err := cam.Probe(); err != nil {
		return nil, fmt.Errorf("visual camera: %v", err)
	}
	return viscam.NewGrabber(cam, bus), nil
}

func openDisplay(conf *Config, bus *sync.Mutex, palette string) (*display.Display, error) {
	port, err := spireg.Open(conf.DisplaySPI)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %v", conf.DisplaySPI, err)
	}
	dc := gpioreg.ByName(conf.DisplayDCPin)
	if dc == nil {
		return nil, fmt.Errorf("unknown pin %q", conf.DisplayDCPin)
	}
	fb, err := display.NewSPIFramebuffer(port, dc)
	if err != nil {
		return nil, err
	}
	d := display.New(fb, bus)
	if err := d.SetPalette(palette); err != nil {
		log.Printf("display palette: %v", err)
	}
	return d, nil
}

func openCharger(conf *Config) (power.ChargeSource, error) {
	if conf.ChargeStat1Pin == "" || conf.ChargeStat2Pin == "" {
		return nil, nil
	}
	s1 := gpioreg.ByName(conf.ChargeStat1Pin)
	s2 := gpioreg.ByName(conf.ChargeStat2Pin)
	if s1 == nil || s2 == nil {
		return nil, fmt.Errorf("unknown charger status pins %q, %q",
			conf.ChargeStat1Pin, conf.ChargeStat2Pin)
	}
	// Charger status outputs are open drain.
	if err := s1.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, err
	}
	if err := s2.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, err
	}
	return &power.ChargerPins{Stat1: s1, Stat2: s2}, nil
}

func openButton(pinName string, onHold func()) (*power.Button, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("unknown pin %q", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, err
	}
	return power.NewButton(pin, onHold), nil
}

func holdPowerLatch(pinName string) (*power.Latch, error) {
	if pinName == "" {
		return nil, nil
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("unknown pin %q", pinName)
	}
	latch := &power.Latch{Pin: pin}
	log.Print("holding power latch")
	if err := latch.Hold(); err != nil {
		return nil, err
	}
	return latch, nil
}

// newWatchdogPing rate limits the coordinator's per-tick watchdog calls
// down to systemd's cadence.
func newWatchdogPing() func() {
	var last time.Time
	return func() {
		if time.Since(last) < watchdogInterval {
			return
		}
		last = time.Now()
		daemon.SdNotify(false, "WATCHDOG=1")
	}
}

// displaySink keeps the coordinator's display slot nil when no panel is
// fitted; a typed nil would make it think one is.
func displaySink(d *display.Display) coordinator.DisplaySink {
	if d == nil {
		return nil
	}
	return d
}

// blankScreen leaves the panel dark at the bottom of the palette while
// the supply collapses.
func blankScreen(d *display.Display) {
	if err := d.ShowThermal(make([]uint16, display.Width*display.Height), 0, 0); err != nil {
		log.Printf("farewell screen: %v", err)
	}
}

func logConfig(conf *Config) {
	log.Printf("device name: %s", conf.DeviceName)
	log.Printf("output dir: %s", conf.OutputDir)
	log.Printf("minimum disk space: %d", conf.MinDiskSpace)
	log.Printf("listen address: %s", conf.ListenAddr)
	log.Printf("settings file: %s", conf.SettingsFile)
	log.Printf("thermal SPI: %s", conf.ThermalSPI)
	log.Printf("visual SPI: %s", conf.VisualSPI)
	log.Printf("display SPI: %s", conf.DisplaySPI)
	log.Printf("i2c bus: %s", conf.I2CBus)
}
