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

	"periph.io/x/periph/conn/gpio"
)

const (
	// maxSyncPeriods bounds one capture attempt. The stream resyncs
	// within a handful of periods when healthy; 36 covers the sensor's
	// own timeout after a de-sync.
	maxSyncPeriods = 36

	// syncPollInterval paces the VSYNC poll. The stream period is
	// ~9.45ms so polling any faster buys nothing.
	syncPollInterval = 9 * time.Millisecond

	// segmentXferBudget bounds a single segment read once packets are
	// flowing. Checked only while skipping discard or garbage packets.
	segmentXferBudget = 12 * time.Millisecond

	maxVsyncPolls = 40
)

// SyncPin is the frame-sync GPIO from the sensor. nil disables the wait
// and the grabber free-runs on the packet source.
type SyncPin interface {
	Read() gpio.Level
}

// Grabber assembles whole frames from the segmented packet stream.
// Methods are not safe for concurrent use; one goroutine owns a Grabber.
type Grabber struct {
	src   PacketSource
	vsync SyncPin
	cci   CCI
	want  Config

	// config verification state, reset by Configure
	verified bool
	retried  bool

	now   func() time.Time
	sleep func(time.Duration)

	packet  [PacketLen]byte
	pix     [NumPixels]uint16
	telem   [TelemetryWords]uint16
	telemOK bool
	segment int
	inFrame bool
}

func NewGrabber(src PacketSource, vsync SyncPin, cci CCI, want Config) *Grabber {
	return &Grabber{
		src:   src,
		vsync: vsync,
		cci:   cci,
		want:  want,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Configure writes the wanted configuration to the sensor. The write is
// considered tentative until a later capture verifies it stuck.
func (g *Grabber) Configure() error {
	g.verified = false
	g.retried = false
	if g.cci == nil {
		return nil
	}
	return g.cci.Apply(g.want)
}

// SetGain changes the wanted gain mode and reconfigures the sensor.
func (g *Grabber) SetGain(gain GainMode) error {
	g.want.Gain = gain
	return g.Configure()
}

// CaptureFrame acquires one full frame, returning the pixel data and the
// raw telemetry row (nil when telemetry is disabled or the row was not
// seen). The returned slices alias the grabber's buffers and are only
// valid until the next capture.
func (g *Grabber) CaptureFrame() ([]uint16, Telemetry, error) {
	g.segment = 1
	g.inFrame = false
	g.telemOK = false

	for period := 0; period < maxSyncPeriods; period++ {
		if err := g.waitSync(); err != nil {
			return nil, nil, err
		}
		done, err := g.transferSegment(g.now().Add(segmentXferBudget))
		if err != nil {
			return nil, nil, err
		}
		if !done {
			continue
		}
		if err := g.verifyConfig(); err != nil {
			return nil, nil, err
		}
		var telem Telemetry
		if g.telemOK {
			telem = Telemetry(g.telem[:])
		}
		return g.pix[:], telem, nil
	}
	return nil, nil, fmt.Errorf("no frame after %d sync periods", maxSyncPeriods)
}

func (g *Grabber) waitSync() error {
	if g.vsync == nil {
		return nil
	}
	for i := 0; i < maxVsyncPolls; i++ {
		if g.vsync.Read() == gpio.High {
			return nil
		}
		g.sleep(syncPollInterval)
	}
	return fmt.Errorf("frame sync pin stuck low")
}

// transferSegment reads packets until the current segment completes or
// the budget runs out on junk. It reports true once the final segment of
// a synchronized frame lands.
func (g *Grabber) transferSegment(deadline time.Time) (bool, error) {
	prevLine := -1
	for {
		if err := g.src.ReadPacket(g.packet[:]); err != nil {
			return false, err
		}
		if g.packet[0]&0xf0 == 0xf0 {
			// discard packet
			if g.now().After(deadline) {
				return false, nil
			}
			continue
		}
		line := int(g.packet[1])
		if line <= prevLine || line > g.lastLine() {
			// out of order means the stream slipped mid-segment
			if g.now().After(deadline) {
				return false, nil
			}
			continue
		}
		prevLine = line

		if line == segmentLine {
			seg := int(g.packet[0]>>4) & 0x7
			if !g.inFrame {
				// only segment 1 opens a frame; anything else keeps
				// writing into the first quarter until sync shows up
				if seg == 1 {
					g.inFrame = true
					g.segment = 1
				}
			} else if seg != g.segment {
				g.inFrame = false
				g.segment = 1
				g.telemOK = false
			}
		}

		g.storePacket(line)

		if line == g.lastLine() {
			if !g.inFrame {
				return false, nil
			}
			if g.segment == numSegments {
				return true, nil
			}
			g.segment++
			return false, nil
		}
	}
}

func (g *Grabber) storePacket(line int) {
	payload := g.packet[packetHeader:]
	if line < linesPerSeg {
		off := (g.segment-1)*rowsPerSegment*FrameCols + line*pixelsPerLine
		for i := 0; i < pixelsPerLine; i++ {
			g.pix[off+i] = uint16(payload[2*i])<<8 | uint16(payload[2*i+1])
		}
		return
	}
	// telemetry row; only the first segment's copy carries data
	if g.want.Telemetry && g.segment == 1 {
		for i := 0; i < TelemetryWords; i++ {
			g.telem[i] = uint16(payload[2*i])<<8 | uint16(payload[2*i+1])
		}
		g.telemOK = true
	}
}

func (g *Grabber) lastLine() int {
	if g.want.Telemetry {
		return telemetryLine
	}
	return linesPerSeg - 1
}

// verifyConfig re-reads the sensor configuration after the first good
// frame following Configure. A mismatch gets one reapply; the frame that
// exposed it is discarded either way so the caller retries the capture.
func (g *Grabber) verifyConfig() error {
	if g.cci == nil || g.verified {
		return nil
	}
	got, err := g.cci.ReadConfig()
	if err != nil {
		return err
	}
	if got == g.want {
		g.verified = true
		g.retried = false
		return nil
	}
	if g.retried {
		g.retried = false
		return fmt.Errorf("sensor config did not hold after reapply")
	}
	g.retried = true
	if err := g.cci.Apply(g.want); err != nil {
		return err
	}
	return fmt.Errorf("sensor config drifted, reapplied")
}
