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

// Package settings manages the small checksum-protected settings block
// kept in battery-backed memory. The block survives reboots and crashes;
// it carries the recording-in-progress flag that drives resume-on-boot,
// plus the camera and network configuration.
//
// Only the coordinator accesses settings directly; other workers request
// updates through it. This keeps the store single-threaded without a
// mutex that could deadlock against the store's own bus.
package settings

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Size is the fixed length of the settings block.
const Size = 256

const (
	magic0 = 0x12
	magic1 = 0x34

	// layoutVersion 2 adds client-mode WiFi, static IPs, per-camera
	// enables, gain, palette and interval to the version 1 layout.
	layoutVersion = 2

	ssidMaxLen     = 32
	passwordMaxLen = 32
	paletteMaxLen  = 16
)

// Block layout. String fields reserve one extra byte for a terminator.
const (
	addrMagic0     = 0
	addrMagic1     = 1
	addrLayout     = 2
	addrRecording  = 3
	addrWifiFlags  = 4
	addrAPSSID     = 5
	addrAPPassword = addrAPSSID + ssidMaxLen + 1
	addrClientSSID = addrAPPassword + passwordMaxLen + 1
	addrClientPass = addrClientSSID + ssidMaxLen + 1
	addrAPIP       = addrClientPass + passwordMaxLen + 1
	addrClientIP   = addrAPIP + 4
	addrRecVisual  = addrClientIP + 4
	addrRecThermal = addrRecVisual + 1
	addrGain       = addrRecThermal + 1
	addrPalette    = addrGain + 1
	addrInterval   = addrPalette + paletteMaxLen + 1
	addrLastValid  = addrInterval + 2
	addrChecksum   = Size - 1
)

// WiFi flag bits persisted in the flags byte.
const (
	FlagStartupEnable = 1 << 0
	FlagClientMode    = 1 << 1
	FlagStaticIP      = 1 << 2

	flagMask = FlagStartupEnable | FlagClientMode | FlagStaticIP
)

// GainMode is the thermal sensor gain setting.
type GainMode byte

const (
	GainHigh GainMode = 0
	GainLow  GainMode = 1
	GainAuto GainMode = 2
)

func (g GainMode) String() string {
	switch g {
	case GainHigh:
		return "HIGH"
	case GainLow:
		return "LOW"
	case GainAuto:
		return "AUTO"
	}
	return "UNKNOWN"
}

// ParseGainMode maps a gain name onto a GainMode. Unknown names report ok
// false; callers clamp to the default.
func ParseGainMode(s string) (GainMode, bool) {
	switch strings.ToUpper(s) {
	case "HIGH":
		return GainHigh, true
	case "LOW":
		return GainLow, true
	case "AUTO":
		return GainAuto, true
	}
	return GainAuto, false
}

// RecordIntervals is the allowed set of seconds between recorded files.
var RecordIntervals = []int{1, 2, 5, 10, 30, 60, 300, 600, 1800, 3600}

// ValidInterval reports whether secs is on the interval allow-list.
func ValidInterval(secs int) bool {
	for _, v := range RecordIntervals {
		if v == secs {
			return true
		}
	}
	return false
}

// PaletteNames is the persisted vocabulary of display palettes.
var PaletteNames = []string{"White Hot", "Black Hot", "Fusion", "Rainbow", "Arctic"}

// DefaultPalette is used when the stored name is unknown.
const DefaultPalette = "Fusion"

func ValidPalette(name string) bool {
	for _, n := range PaletteNames {
		if n == name {
			return true
		}
	}
	return false
}

// WifiInfo is the persisted network configuration. IP addresses are kept
// in stored order: least significant octet first.
type WifiInfo struct {
	Flags          byte
	APSSID         string
	APPassword     string
	ClientSSID     string
	ClientPassword string
	APIP           [4]byte
	ClientIP       [4]byte
}

// CameraState is the persisted camera configuration.
type CameraState struct {
	RecordVisual  bool
	RecordThermal bool
	Gain          GainMode
	Palette       string
	IntervalSecs  int
}

// FormatIP renders a stored address as dotted decimal.
func FormatIP(ip [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[3], ip[2], ip[1], ip[0])
}

// ParseIP parses four decimal octets into stored order (least significant
// first).
func ParseIP(s string) ([4]byte, error) {
	var ip [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ip, fmt.Errorf("invalid IP address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return ip, fmt.Errorf("invalid IP address %q", s)
		}
		ip[3-i] = byte(v)
	}
	return ip, nil
}

// Store is the battery-backed memory holding the settings block. The
// device driver behind it is not this package's concern.
type Store interface {
	// Read fills buf from the start of the store.
	Read(buf []byte) error
	// Write stores data starting at byte offset off.
	Write(off int, data []byte) error
}

// Settings is the shadow copy of the persistent block plus its store.
type Settings struct {
	store Store
	buf   [Size]byte
}

// Load reads the settings block, initializing it with defaults when the
// magic word or checksum is bad, and upgrading a version 1 layout in
// place.
func Load(store Store) (*Settings, error) {
	s := &Settings{store: store}
	if err := store.Read(s.buf[:]); err != nil {
		return nil, fmt.Errorf("reading settings block: %v", err)
	}

	if !s.validMagic() || s.checksum() != s.buf[addrChecksum] {
		log.Print("settings block invalid, initializing defaults")
		s.initDefaults()
		if err := s.writeAll(); err != nil {
			return nil, err
		}
	} else if s.buf[addrLayout] == 1 {
		log.Print("upgrading settings block from layout version 1")
		s.upgradeV1()
		if err := s.writeAll(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Recording returns the persisted recording-in-progress flag.
func (s *Settings) Recording() bool {
	return s.buf[addrRecording] != 0
}

// SetRecording persists the recording-in-progress flag. This is the only
// place the flag is written; session teardown goes through here too.
func (s *Settings) SetRecording(on bool) error {
	s.buf[addrRecording] = boolByte(on)
	s.buf[addrChecksum] = s.checksum()
	if err := s.store.Write(addrRecording, s.buf[addrRecording:addrRecording+1]); err != nil {
		return fmt.Errorf("writing recording flag: %v", err)
	}
	return s.writeChecksum()
}

// Wifi returns the persisted network configuration.
func (s *Settings) Wifi() WifiInfo {
	var w WifiInfo
	w.Flags = s.buf[addrWifiFlags] & flagMask
	w.APSSID = s.getString(addrAPSSID, ssidMaxLen)
	w.APPassword = s.getString(addrAPPassword, passwordMaxLen)
	w.ClientSSID = s.getString(addrClientSSID, ssidMaxLen)
	w.ClientPassword = s.getString(addrClientPass, passwordMaxLen)
	copy(w.APIP[:], s.buf[addrAPIP:addrAPIP+4])
	copy(w.ClientIP[:], s.buf[addrClientIP:addrClientIP+4])
	return w
}

// SetWifi persists a new network configuration. Overlong SSIDs or
// passphrases are rejected before anything is written.
func (s *Settings) SetWifi(w WifiInfo) error {
	if len(w.APSSID) > ssidMaxLen || len(w.ClientSSID) > ssidMaxLen {
		return fmt.Errorf("SSID exceeds %d bytes", ssidMaxLen)
	}
	if len(w.APPassword) > passwordMaxLen || len(w.ClientPassword) > passwordMaxLen {
		return fmt.Errorf("passphrase exceeds %d bytes", passwordMaxLen)
	}
	s.buf[addrWifiFlags] = w.Flags & flagMask
	s.putString(addrAPSSID, ssidMaxLen, w.APSSID)
	s.putString(addrAPPassword, passwordMaxLen, w.APPassword)
	s.putString(addrClientSSID, ssidMaxLen, w.ClientSSID)
	s.putString(addrClientPass, passwordMaxLen, w.ClientPassword)
	copy(s.buf[addrAPIP:addrAPIP+4], w.APIP[:])
	copy(s.buf[addrClientIP:addrClientIP+4], w.ClientIP[:])
	s.buf[addrChecksum] = s.checksum()
	if err := s.store.Write(addrWifiFlags, s.buf[addrWifiFlags:addrRecVisual]); err != nil {
		return fmt.Errorf("writing wifi settings: %v", err)
	}
	return s.writeChecksum()
}

// Camera returns the persisted camera configuration, repairing any
// illegal stored values to defaults.
func (s *Settings) Camera() CameraState {
	var c CameraState
	repair := false

	c.RecordVisual = s.buf[addrRecVisual] != 0
	c.RecordThermal = s.buf[addrRecThermal] != 0
	c.Gain = GainMode(s.buf[addrGain])
	if c.Gain > GainAuto {
		c.Gain = GainAuto
		s.buf[addrGain] = byte(GainAuto)
		repair = true
		log.Print("reset stored gain mode to legal value")
	}

	c.IntervalSecs = int(s.buf[addrInterval])<<8 | int(s.buf[addrInterval+1])
	if !ValidInterval(c.IntervalSecs) {
		c.IntervalSecs = RecordIntervals[0]
		s.buf[addrInterval] = byte(c.IntervalSecs >> 8)
		s.buf[addrInterval+1] = byte(c.IntervalSecs)
		repair = true
		log.Print("reset stored record interval to legal value")
	}

	c.Palette = s.getString(addrPalette, paletteMaxLen)
	if !ValidPalette(c.Palette) {
		c.Palette = DefaultPalette
		s.putString(addrPalette, paletteMaxLen, c.Palette)
		repair = true
		log.Print("reset stored palette to legal value")
	}

	if repair {
		s.buf[addrChecksum] = s.checksum()
		if err := s.store.Write(addrRecVisual, s.buf[addrRecVisual:addrLastValid]); err != nil {
			log.Printf("failed to repair camera settings: %v", err)
		} else if err := s.writeChecksum(); err != nil {
			log.Printf("failed to repair camera settings: %v", err)
		}
	}
	return c
}

// SetCamera persists a new camera configuration.
func (s *Settings) SetCamera(c CameraState) error {
	if len(c.Palette) > paletteMaxLen {
		return fmt.Errorf("palette name exceeds %d bytes", paletteMaxLen)
	}
	s.buf[addrRecVisual] = boolByte(c.RecordVisual)
	s.buf[addrRecThermal] = boolByte(c.RecordThermal)
	s.buf[addrGain] = byte(c.Gain)
	s.putString(addrPalette, paletteMaxLen, c.Palette)
	s.buf[addrInterval] = byte(c.IntervalSecs >> 8)
	s.buf[addrInterval+1] = byte(c.IntervalSecs)
	s.buf[addrChecksum] = s.checksum()
	if err := s.store.Write(addrRecVisual, s.buf[addrRecVisual:addrLastValid]); err != nil {
		return fmt.Errorf("writing camera settings: %v", err)
	}
	return s.writeChecksum()
}

func (s *Settings) initDefaults() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.buf[addrMagic0] = magic0
	s.buf[addrMagic1] = magic1
	s.buf[addrLayout] = layoutVersion
	s.buf[addrRecording] = 0
	s.buf[addrWifiFlags] = FlagStartupEnable
	s.putString(addrAPSSID, ssidMaxLen, defaultAPSSID)
	s.fillV2Defaults()
}

// upgradeV1 keeps the version 1 fields (recording flag, AP credentials)
// and fills the fields this layout adds with defaults.
func (s *Settings) upgradeV1() {
	s.buf[addrLayout] = layoutVersion
	s.fillV2Defaults()
}

func (s *Settings) fillV2Defaults() {
	s.putString(addrClientSSID, ssidMaxLen, "")
	s.putString(addrClientPass, passwordMaxLen, "")
	copy(s.buf[addrAPIP:addrAPIP+4], []byte{1, 4, 168, 192})
	copy(s.buf[addrClientIP:addrClientIP+4], []byte{2, 4, 168, 192})
	s.buf[addrRecVisual] = 1
	s.buf[addrRecThermal] = 1
	s.buf[addrGain] = byte(GainAuto)
	s.putString(addrPalette, paletteMaxLen, DefaultPalette)
	s.buf[addrInterval] = 0
	s.buf[addrInterval+1] = 1
	s.buf[addrChecksum] = s.checksum()
}

const defaultAPSSID = "TLR-CAM"

func (s *Settings) validMagic() bool {
	return s.buf[addrMagic0] == magic0 && s.buf[addrMagic1] == magic1
}

// checksum is the 8-bit sum of every byte before the checksum byte.
func (s *Settings) checksum() byte {
	var sum byte
	for _, b := range s.buf[:addrChecksum] {
		sum += b
	}
	return sum
}

func (s *Settings) writeAll() error {
	if err := s.store.Write(0, s.buf[:]); err != nil {
		return fmt.Errorf("writing settings block: %v", err)
	}
	return nil
}

func (s *Settings) writeChecksum() error {
	if err := s.store.Write(addrChecksum, s.buf[addrChecksum:]); err != nil {
		return fmt.Errorf("writing settings checksum: %v", err)
	}
	return nil
}

func (s *Settings) getString(off, maxLen int) string {
	b := s.buf[off : off+maxLen]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (s *Settings) putString(off, maxLen int, v string) {
	for i := 0; i <= maxLen; i++ {
		if i < len(v) {
			s.buf[off+i] = v[i]
		} else {
			s.buf[off+i] = 0
		}
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
