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
	"log"
	"time"

	"github.com/openthermal/timelapse-recorder/bundle"
	"github.com/openthermal/timelapse-recorder/coordinator"
	"github.com/openthermal/timelapse-recorder/responder"
	"github.com/openthermal/timelapse-recorder/settings"
)

// control adapts the coordinator to the responder's command set,
// translating between wire payloads and persisted settings.
type control struct {
	coord   *coordinator.Coordinator
	name    string
	version string
}

func (c *control) Status() responder.Status {
	s := c.coord.Status()
	var m bundle.Metadata
	m.SetClock(time.Now())
	return responder.Status{
		Camera:    c.name,
		Version:   c.version,
		Time:      m.Time,
		Date:      m.Date,
		Recording: s.Recording,
		Battery:   s.BatteryVolts,
		Charge:    s.Charge.String(),
		Storage:   s.StoragePresent,
	}
}

func (c *control) CameraConfig() responder.ConfigPayload {
	cam := c.coord.CameraState()
	gain := cam.Gain.String()
	return responder.ConfigPayload{
		RecordVisual:  &cam.RecordVisual,
		RecordThermal: &cam.RecordThermal,
		GainMode:      &gain,
		Palette:       &cam.Palette,
		IntervalSecs:  &cam.IntervalSecs,
	}
}

// SetCameraConfig merges the supplied fields onto the current state.
// Out-of-range values never fail the command: interval and palette are
// clamped downstream, an unknown gain name clamps to Auto here.
func (c *control) SetCameraConfig(p responder.ConfigPayload) error {
	return c.coord.UpdateCamera(mergeCameraConfig(c.coord.CameraState(), p))
}

func mergeCameraConfig(cam settings.CameraState, p responder.ConfigPayload) settings.CameraState {
	if p.RecordVisual != nil {
		cam.RecordVisual = *p.RecordVisual
	}
	if p.RecordThermal != nil {
		cam.RecordThermal = *p.RecordThermal
	}
	if p.GainMode != nil {
		mode, ok := settings.ParseGainMode(*p.GainMode)
		if !ok {
			log.Printf("unknown gain mode %q, using %s", *p.GainMode, mode)
		}
		cam.Gain = mode
	}
	if p.Palette != nil {
		cam.Palette = *p.Palette
	}
	if p.IntervalSecs != nil {
		cam.IntervalSecs = *p.IntervalSecs
	}
	return cam
}

func (c *control) Wifi() responder.WifiPayload {
	w := c.coord.Wifi()
	flags := w.Flags
	apIP := settings.FormatIP(w.APIP)
	staIP := settings.FormatIP(w.ClientIP)
	return responder.WifiPayload{
		Flags:          &flags,
		APSSID:         &w.APSSID,
		APPassword:     &w.APPassword,
		ClientSSID:     &w.ClientSSID,
		ClientPassword: &w.ClientPassword,
		APIP:           &apIP,
		ClientIP:       &staIP,
	}
}

func (c *control) SetWifi(p responder.WifiPayload) error {
	w := c.coord.Wifi()
	if p.Flags != nil {
		w.Flags = *p.Flags
	}
	if p.APSSID != nil {
		w.APSSID = *p.APSSID
	}
	if p.APPassword != nil {
		w.APPassword = *p.APPassword
	}
	if p.ClientSSID != nil {
		w.ClientSSID = *p.ClientSSID
	}
	if p.ClientPassword != nil {
		w.ClientPassword = *p.ClientPassword
	}
	if p.APIP != nil {
		ip, err := settings.ParseIP(*p.APIP)
		if err != nil {
			return err
		}
		w.APIP = ip
	}
	if p.ClientIP != nil {
		ip, err := settings.ParseIP(*p.ClientIP)
		if err != nil {
			return err
		}
		w.ClientIP = ip
	}
	return c.coord.UpdateWifi(w)
}

func (c *control) SetTime(t time.Time) error {
	return c.coord.SetClock(t)
}

func (c *control) SetRecording(on bool) error {
	if on {
		c.coord.StartRecording()
	} else {
		c.coord.StopRecording()
	}
	return nil
}

func (c *control) Poweroff() {
	c.coord.RequestShutdown()
}

func (c *control) RequestImage(reply chan<- []byte) {
	c.coord.RequestImage(reply)
}
