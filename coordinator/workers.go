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

package coordinator

import "log"

// Capture and consumer workers. Each serves requests from its channel
// and answers with events; all slot transitions on the worker side
// happen strictly inside a granted request.

func (c *Coordinator) visualWorker() {
	for job := range c.visualReq {
		data, err := c.visual.CaptureJPEG()
		if err != nil {
			c.limiter.Printf("visual", "visual capture: %v", err)
			c.vslot.Fail()
			c.events <- event{kind: evCaptureFailed, slot: visualSlot, cycle: job.cycle}
			continue
		}
		if err := c.vslot.Publish(data); err != nil {
			log.Printf("visual publish: %v", err)
			c.events <- event{kind: evCaptureFailed, slot: visualSlot, cycle: job.cycle}
			continue
		}
		c.events <- event{kind: evCaptureDone, slot: visualSlot, cycle: job.cycle}
	}
}

func (c *Coordinator) thermalWorker() {
	for job := range c.thermalReq {
		if job.gain != nil {
			if err := c.thermal.SetGain(*job.gain); err != nil {
				log.Printf("thermal gain change: %v", err)
			}
			continue
		}
		pix, telem, err := c.thermal.CaptureFrame()
		if err != nil {
			c.limiter.Printf("thermal", "thermal capture: %v", err)
			c.tslot.Fail()
			c.events <- event{kind: evCaptureFailed, slot: thermalSlot, cycle: job.cycle}
			continue
		}
		if err := c.tslot.Publish(pix, telem); err != nil {
			log.Printf("thermal publish: %v", err)
			c.events <- event{kind: evCaptureFailed, slot: thermalSlot, cycle: job.cycle}
			continue
		}
		c.events <- event{kind: evCaptureDone, slot: thermalSlot, cycle: job.cycle}
	}
}

func (c *Coordinator) recorderWorker() {
	for job := range c.recorderReq {
		err := c.rec.WriteBundle(job.seq, job.data)
		c.events <- event{kind: evRecorderDone, seq: job.seq, err: err}
	}
}

func (c *Coordinator) displayWorker() {
	for job := range c.displayReq {
		if job.palette != "" {
			if err := c.display.SetPalette(job.palette); err != nil {
				log.Printf("set palette: %v", err)
			}
			continue
		}
		switch job.slot {
		case visualSlot:
			if err := c.display.ShowJPEG(c.vslot.Image()); err != nil {
				c.limiter.Printf("disp-v", "render visual: %v", err)
			}
			c.vslot.ReleaseFromDisplay()
		case thermalSlot:
			frame := c.tslot.Frame()
			if err := c.display.ShowThermal(frame.Pix, frame.Min, frame.Max); err != nil {
				c.limiter.Printf("disp-t", "render thermal: %v", err)
			}
			c.tslot.ReleaseFromDisplay()
		}
		c.events <- event{kind: evDisplayReleased, slot: job.slot}
	}
}
