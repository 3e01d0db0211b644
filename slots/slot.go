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

// Package slots implements the single-entry hand-off buffers between the
// capture workers and the coordinator. Each slot has one producer and one
// consumer side; all state transitions are driven by the coordinator, and
// the state field is the only lock needed over the slot contents.
package slots

import (
	"fmt"
	"sync"
)

// State is the hand-off state of a slot.
type State int

const (
	Empty State = iota
	Filling
	Full
	InUseByDisplay
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filling:
		return "filling"
	case Full:
		return "full"
	case InUseByDisplay:
		return "in-use-by-display"
	}
	return "unknown"
}

func transitionErr(op string, have, want State) error {
	return fmt.Errorf("%s: slot is %v, need %v", op, have, want)
}

// state machine shared by both slot types
type slotState struct {
	mu    sync.Mutex
	state State
}

func (s *slotState) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestFill moves the slot from Empty to Filling. The coordinator calls
// this before asking the producer for a new frame.
func (s *slotState) RequestFill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Empty {
		return transitionErr("request fill", s.state, Empty)
	}
	s.state = Filling
	return nil
}

// Fail moves the slot from Filling back to Empty. The producer calls this
// instead of publishing when a capture attempt failed.
func (s *slotState) Fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Filling {
		return transitionErr("fail", s.state, Filling)
	}
	s.state = Empty
	return nil
}

// ClaimForDisplay moves the slot from Full to InUseByDisplay.
func (s *slotState) ClaimForDisplay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Full {
		return transitionErr("claim for display", s.state, Full)
	}
	s.state = InUseByDisplay
	return nil
}

// ReleaseFromDisplay moves the slot from InUseByDisplay to Empty.
func (s *slotState) ReleaseFromDisplay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InUseByDisplay {
		return transitionErr("release from display", s.state, InUseByDisplay)
	}
	s.state = Empty
	return nil
}

// Reclaim moves the slot from Full to Empty without a display pass. The
// coordinator uses this at the top of a cycle when the previous frame was
// never granted to the display.
func (s *slotState) Reclaim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Full {
		return transitionErr("reclaim", s.state, Full)
	}
	s.state = Empty
	return nil
}

// readable reports whether a consumer copy is currently permitted. The
// display never mutates slot contents, so copying while it holds the slot
// is allowed.
func (s *slotState) readable() bool {
	return s.state == Full || s.state == InUseByDisplay
}

// VSlot is the visual (JPEG) frame slot.
type VSlot struct {
	slotState
	buf []byte
	n   int
}

// NewVSlot returns a visual slot able to hold up to maxLen bytes of
// compressed image data.
func NewVSlot(maxLen int) *VSlot {
	return &VSlot{buf: make([]byte, maxLen)}
}

// Cap returns the slot's byte capacity.
func (s *VSlot) Cap() int {
	return len(s.buf)
}

// Publish copies data into the slot and moves it from Filling to Full.
func (s *VSlot) Publish(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Filling {
		return transitionErr("publish", s.state, Filling)
	}
	if len(data) > len(s.buf) {
		s.state = Empty
		return fmt.Errorf("publish: image of %d bytes exceeds slot capacity %d", len(data), len(s.buf))
	}
	s.n = copy(s.buf, data)
	s.state = Full
	return nil
}

// CopyForConsumer returns a copy of the slot contents for the recorder or
// responder path. The slot state is unchanged.
func (s *VSlot) CopyForConsumer() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.readable() {
		return nil, transitionErr("copy for consumer", s.state, Full)
	}
	out := make([]byte, s.n)
	copy(out, s.buf[:s.n])
	return out, nil
}

// Image returns the slot contents without copying. Callers must hold a
// display claim for the duration of the read.
func (s *VSlot) Image() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf[:s.n]
}

// ThermalFrame is one radiometric frame plus its telemetry row and the
// per-frame display range.
type ThermalFrame struct {
	Pix            []uint16
	Telemetry      []uint16
	TelemetryValid bool
	Min, Max       uint16
}

// TSlot is the thermal frame slot.
type TSlot struct {
	slotState
	frame ThermalFrame
}

// NewTSlot returns a thermal slot for pixels pixels and telemWords
// telemetry words per frame.
func NewTSlot(pixels, telemWords int) *TSlot {
	return &TSlot{frame: ThermalFrame{
		Pix:       make([]uint16, pixels),
		Telemetry: make([]uint16, telemWords),
	}}
}

// Publish copies a frame into the slot, precomputes the display min/max
// and moves the slot from Filling to Full. telemetry may be nil when the
// sensor is not configured for a telemetry row; publication of the Full
// state is the memory barrier for the telemetry validity flag.
func (s *TSlot) Publish(pix []uint16, telemetry []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Filling {
		return transitionErr("publish", s.state, Filling)
	}
	if len(pix) != len(s.frame.Pix) {
		s.state = Empty
		return fmt.Errorf("publish: frame of %d pixels, slot holds %d", len(pix), len(s.frame.Pix))
	}
	copy(s.frame.Pix, pix)
	s.frame.Min, s.frame.Max = pixelRange(pix)
	if telemetry != nil {
		copy(s.frame.Telemetry, telemetry)
		s.frame.TelemetryValid = true
	} else {
		s.frame.TelemetryValid = false
	}
	s.state = Full
	return nil
}

// CopyForConsumer returns a copy of the frame for the recorder or
// responder path. The slot state is unchanged.
func (s *TSlot) CopyForConsumer() (*ThermalFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.readable() {
		return nil, transitionErr("copy for consumer", s.state, Full)
	}
	out := &ThermalFrame{
		Pix:            make([]uint16, len(s.frame.Pix)),
		TelemetryValid: s.frame.TelemetryValid,
		Min:            s.frame.Min,
		Max:            s.frame.Max,
	}
	copy(out.Pix, s.frame.Pix)
	if s.frame.TelemetryValid {
		out.Telemetry = make([]uint16, len(s.frame.Telemetry))
		copy(out.Telemetry, s.frame.Telemetry)
	}
	return out, nil
}

// Frame returns the slot contents without copying. Callers must hold a
// display claim for the duration of the read.
func (s *TSlot) Frame() *ThermalFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &s.frame
}

func pixelRange(pix []uint16) (min, max uint16) {
	min = 0xffff
	for _, v := range pix {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
