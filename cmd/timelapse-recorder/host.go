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
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/openthermal/timelapse-recorder/coordinator"
	"github.com/openthermal/timelapse-recorder/power"
	"github.com/openthermal/timelapse-recorder/settings"
)

// hostControl carries out reboots, power down and clock sets on the
// host. Power down releases the soft latch once systemd has had its
// say.
type hostControl struct {
	latch *power.Latch
}

func (h *hostControl) Reboot() {
	if err := exec.Command("systemctl", "reboot").Run(); err != nil {
		log.Printf("reboot request failed: %v", err)
	}
}

func (h *hostControl) Poweroff() {
	if err := exec.Command("systemctl", "poweroff").Run(); err != nil {
		log.Printf("poweroff request failed: %v", err)
	}
	if h.latch != nil {
		if err := h.latch.Release(); err != nil {
			log.Printf("releasing power latch: %v", err)
		}
	}
}

func (h *hostControl) SetClock(t time.Time) error {
	tv := syscall.NsecToTimeval(t.UnixNano())
	if err := syscall.Settimeofday(&tv); err != nil {
		return fmt.Errorf("setting system clock: %v", err)
	}
	log.Printf("system clock set to %s", t.Format(time.RFC3339))
	return nil
}

// scriptNetwork applies WiFi settings by running an external helper
// with the configuration in its environment. Radio bring-up is distro
// specific and stays out of this binary.
type scriptNetwork struct {
	path string
}

func networkControl(path string) coordinator.NetworkControl {
	if path == "" {
		return nil
	}
	return &scriptNetwork{path: path}
}

func (n *scriptNetwork) Apply(w settings.WifiInfo) error {
	cmd := exec.Command(n.path)
	cmd.Env = append(os.Environ(),
		"WIFI_FLAGS="+strconv.Itoa(int(w.Flags)),
		"AP_SSID="+w.APSSID,
		"AP_PASSWORD="+w.APPassword,
		"STA_SSID="+w.ClientSSID,
		"STA_PASSWORD="+w.ClientPassword,
		"AP_IP="+settings.FormatIP(w.APIP),
		"STA_IP="+settings.FormatIP(w.ClientIP),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v (%s)", n.path, err, out)
	}
	return nil
}

// logNotifier narrates coordinator activity to the journal. File writes
// happen up to once a second so those log at most once a minute.
type logNotifier struct {
	lastFile time.Time
}

func newLogNotifier() *logNotifier {
	return new(logNotifier)
}

func (n *logNotifier) RecordingStarted() {
	log.Print("recording started")
}

func (n *logNotifier) RecordingStopped() {
	log.Print("recording stopped")
}

func (n *logNotifier) FileWritten(seq int) {
	if time.Since(n.lastFile) < time.Minute {
		return
	}
	n.lastFile = time.Now()
	log.Printf("recording, last file %d", seq)
}

func (n *logNotifier) Notice(msg string) {
	log.Print(msg)
}
