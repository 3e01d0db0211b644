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

package power

import (
	"time"

	"periph.io/x/periph/conn/gpio"
)

const (
	// HoldTime is how long the power button must stay down to request
	// shutdown. Shorter presses are ignored as pocket bumps.
	HoldTime = 1500 * time.Millisecond

	buttonPoll = 50 * time.Millisecond
)

// buttonPin is the subset of gpio.PinIn the monitor needs.
type buttonPin interface {
	Read() gpio.Level
}

// Button watches an active-low momentary switch and fires onHold once
// per press held past HoldTime.
type Button struct {
	pin    buttonPin
	onHold func()

	now   func() time.Time
	sleep func(time.Duration)
	stop  chan struct{}
}

func NewButton(pin gpio.PinIn, onHold func()) *Button {
	return &Button{
		pin:    pin,
		onHold: onHold,
		now:    time.Now,
		sleep:  time.Sleep,
		stop:   make(chan struct{}),
	}
}

// Run polls until Stop. It blocks; run it on its own goroutine.
func (b *Button) Run() {
	var downAt time.Time
	fired := false
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if b.pin.Read() == gpio.Low {
			if downAt.IsZero() {
				downAt = b.now()
			} else if !fired && b.now().Sub(downAt) >= HoldTime {
				fired = true
				b.onHold()
			}
		} else {
			downAt = time.Time{}
			fired = false
		}
		b.sleep(buttonPoll)
	}
}

func (b *Button) Stop() {
	close(b.stop)
}
