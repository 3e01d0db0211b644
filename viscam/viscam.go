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

// Package viscam captures JPEG stills from the visual camera module.
// The camera shares its bus with the display, so every transaction runs
// under the bus lock and the lock is dropped while waiting on exposure.
package viscam

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

const (
	// MaxJPEGLen caps an accepted image. The camera's FIFO can report
	// nonsense lengths after a glitch; anything bigger than this is
	// treated as one.
	MaxJPEGLen = 64 * 1024

	// A capture is ready well inside 300ms at the configured exposure;
	// past that the camera has wedged.
	readyTimeout = 300 * time.Millisecond
	readyPoll    = 10 * time.Millisecond
)

var (
	soiMarker = []byte{0xff, 0xd8}
	eoiMarker = []byte{0xff, 0xd9}
)

// Camera is the capture-side interface of the visual camera module.
// Implementations do not lock the shared bus themselves.
type Camera interface {
	// ClearFIFO discards any image left in the camera's frame buffer.
	ClearFIFO() error
	// StartCapture begins a single-shot capture.
	StartCapture() error
	// CaptureDone reports whether the frame buffer holds a finished
	// capture.
	CaptureDone() (bool, error)
	// ImageLen returns the byte count the frame buffer reports.
	ImageLen() (int, error)
	// ReadImage burst-reads len(p) bytes from the frame buffer.
	ReadImage(p []byte) error
}

// Grabber drives one capture at a time. Not safe for concurrent use.
type Grabber struct {
	cam Camera
	bus *sync.Mutex

	now   func() time.Time
	sleep func(time.Duration)

	buf [MaxJPEGLen]byte
}

// NewGrabber returns a grabber for cam. bus serializes access to the
// transport shared with the display.
func NewGrabber(cam Camera, bus *sync.Mutex) *Grabber {
	return &Grabber{
		cam:   cam,
		bus:   bus,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// CaptureJPEG takes one still and returns the JPEG with any FIFO
// preamble and trailing padding stripped. The returned slice aliases the
// grabber's buffer and is only valid until the next capture.
func (g *Grabber) CaptureJPEG() ([]byte, error) {
	if err := g.trigger(); err != nil {
		return nil, err
	}
	if err := g.waitReady(); err != nil {
		return nil, err
	}
	return g.drain()
}

func (g *Grabber) trigger() error {
	g.bus.Lock()
	defer g.bus.Unlock()
	if err := g.cam.ClearFIFO(); err != nil {
		return fmt.Errorf("clear fifo: %v", err)
	}
	if err := g.cam.StartCapture(); err != nil {
		return fmt.Errorf("start capture: %v", err)
	}
	return nil
}

func (g *Grabber) waitReady() error {
	deadline := g.now().Add(readyTimeout)
	for {
		g.bus.Lock()
		done, err := g.cam.CaptureDone()
		g.bus.Unlock()
		if err != nil {
			return fmt.Errorf("poll capture: %v", err)
		}
		if done {
			return nil
		}
		if g.now().After(deadline) {
			return fmt.Errorf("capture not ready after %v", readyTimeout)
		}
		g.sleep(readyPoll)
	}
}

// drain reads the whole frame buffer under one bus hold, then trims to
// the JPEG markers. The camera pads its FIFO to a transfer boundary so
// bytes outside SOI..EOI are expected.
func (g *Grabber) drain() ([]byte, error) {
	g.bus.Lock()
	defer g.bus.Unlock()

	n, err := g.cam.ImageLen()
	if err != nil {
		return nil, fmt.Errorf("image length: %v", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("camera reported empty image")
	}
	if n > MaxJPEGLen {
		return nil, fmt.Errorf("camera reported %d byte image, limit %d", n, MaxJPEGLen)
	}
	if err := g.cam.ReadImage(g.buf[:n]); err != nil {
		return nil, fmt.Errorf("read image: %v", err)
	}

	data := g.buf[:n]
	start := bytes.Index(data, soiMarker)
	if start < 0 {
		return nil, fmt.Errorf("no JPEG start marker in %d bytes", n)
	}
	end := bytes.LastIndex(data, eoiMarker)
	if end < start {
		return nil, fmt.Errorf("no JPEG end marker in %d bytes", n)
	}
	return data[start : end+2], nil
}
