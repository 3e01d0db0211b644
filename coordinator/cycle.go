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

import (
	"log"
	"time"

	"github.com/openthermal/timelapse-recorder/bundle"
	"github.com/openthermal/timelapse-recorder/lepton"
	"github.com/openthermal/timelapse-recorder/settings"
	"github.com/openthermal/timelapse-recorder/slots"
)

func (c *Coordinator) tick(now time.Time) {
	if c.watchdog != nil {
		c.watchdog()
	}
	c.pollStorage(now)
	if c.quit {
		return
	}

	switch c.state {
	case waitTopOfSecond:
		sec := now.Truncate(time.Second)
		if !sec.Equal(c.lastSecond) {
			c.openCycle(now, sec)
		}
	case waitImages:
		c.checkCycle(now)
	}
}

// openCycle starts a new capture cycle on a wall-clock second change.
func (c *Coordinator) openCycle(now, sec time.Time) {
	c.lastSecond = sec
	c.cycleStart = now
	c.cycleID++
	c.state = waitImages

	if c.supply != nil {
		c.volts, c.charge = c.supply.Read()
		if c.supply.Critical() {
			log.Printf("battery critical (%.2fV), shutting down", c.volts)
			c.shutdown()
			return
		}
	}

	c.visStatus = c.armVisual()
	c.thermStatus = c.armThermal()
}

func (c *Coordinator) armVisual() reqStatus {
	if c.visual == nil || c.displayBusyV {
		return reqIdle
	}
	if c.vslot.State() == slots.Full {
		// published last cycle but the display never took it
		c.vslot.Reclaim()
	}
	if err := c.vslot.RequestFill(); err != nil {
		c.limiter.Printf("varm", "visual slot not ready: %v", err)
		return reqIdle
	}
	c.visualReq <- captureJob{cycle: c.cycleID}
	return reqRequested
}

func (c *Coordinator) armThermal() reqStatus {
	if c.thermal == nil || c.displayBusyT {
		return reqIdle
	}
	if c.tslot.State() == slots.Full {
		c.tslot.Reclaim()
	}
	if err := c.tslot.RequestFill(); err != nil {
		c.limiter.Printf("tarm", "thermal slot not ready: %v", err)
		return reqIdle
	}
	c.thermalReq <- thermalJob{cycle: c.cycleID}
	return reqRequested
}

// checkCycle runs every tick while images are outstanding. The cycle
// commits early once every armed camera has answered and the relevant
// consumer can take a bundle; otherwise it commits at the deadline
// with whatever arrived.
func (c *Coordinator) checkCycle(now time.Time) {
	earlyCommit := c.camerasReceived() &&
		((c.recording && !c.recorderBusy) ||
			(!c.recording && c.pendingImage != nil))

	if !earlyCommit && now.Sub(c.cycleStart) < cycleDeadline {
		return
	}
	if c.recording || c.pendingImage != nil {
		c.processImages(now)
	}
	c.state = waitTopOfSecond
}

// camerasReceived reports whether every fitted camera has published
// this cycle. A skipped or failed request never counts, so those
// cycles ride out to the deadline.
func (c *Coordinator) camerasReceived() bool {
	vis := c.visual == nil || c.visStatus == reqReceived
	therm := c.thermal == nil || c.thermStatus == reqReceived
	return vis && therm
}

// processImages assembles and dispatches this cycle's bundles: at most
// one to the recorder (subject to interval throttling) and at most one
// to a waiting responder.
func (c *Coordinator) processImages(now time.Time) {
	c.intervalCount++
	recordNow := false
	if c.recording && c.intervalCount >= c.interval() {
		c.intervalCount = 0
		recordNow = true
	}

	jpeg, tf := c.collect()

	if recordNow && !c.recorderBusy {
		b := c.makeBundle(now, jpeg, tf, true)
		if data, err := bundle.Encode(b); err != nil {
			log.Printf("encode record: %v", err)
		} else {
			c.recorderBusy = true
			c.recorderReq <- recorderJob{seq: c.seq, data: data}
		}
	}

	if c.pendingImage != nil {
		b := c.makeBundle(now, jpeg, tf, false)
		if data, err := bundle.Encode(b); err != nil {
			log.Printf("encode image reply: %v", err)
		} else {
			select {
			case c.pendingImage <- data:
			default:
			}
		}
		c.pendingImage = nil
	}
}

func (c *Coordinator) interval() int {
	if c.camState.IntervalSecs < 1 {
		return 1
	}
	return c.camState.IntervalSecs
}

// collect copies whatever this cycle produced out of the slots. Copies
// are taken once and shared by the recorder and responder bundles.
func (c *Coordinator) collect() ([]byte, *slots.ThermalFrame) {
	var jpeg []byte
	var tf *slots.ThermalFrame
	if c.visStatus == reqReceived {
		if data, err := c.vslot.CopyForConsumer(); err != nil {
			log.Printf("visual slot read: %v", err)
		} else {
			jpeg = data
		}
	}
	if c.thermStatus == reqReceived {
		if frame, err := c.tslot.CopyForConsumer(); err != nil {
			log.Printf("thermal slot read: %v", err)
		} else {
			tf = frame
		}
	}
	return jpeg, tf
}

// makeBundle applies the inclusion rules: the recorder honors the
// per-camera record enables, the responder gets everything that was
// captured.
func (c *Coordinator) makeBundle(now time.Time, jpeg []byte, tf *slots.ThermalFrame, forRecorder bool) *bundle.Bundle {
	b := &bundle.Bundle{}
	m := &b.Metadata
	m.Camera = c.cameraName
	m.Version = c.version
	m.SequenceNumber = c.seq
	m.SetClock(now)
	m.Battery = c.volts
	m.Charge = c.charge.String()

	if jpeg != nil && (!forRecorder || c.camState.RecordVisual) {
		b.JPEG = jpeg
	}
	if tf != nil && (!forRecorder || c.camState.RecordThermal) {
		b.SetRadiometric(tf.Pix)
		if tf.TelemetryValid {
			b.SetTelemetry(tf.Telemetry)
			row := lepton.Telemetry(tf.Telemetry)
			fpa := row.FPATempC()
			aux := row.AuxTempC()
			lens := aux // no separate lens probe on this hardware
			m.FPATemp = &fpa
			m.AuxTemp = &aux
			m.LensTemp = &lens
			m.GainMode = row.GainString()
			m.Resolution = row.ResolutionString()
		}
	}
	return b
}

func (c *Coordinator) handleEvent(ev event) {
	switch ev.kind {
	case evCaptureDone:
		if ev.cycle != c.cycleID {
			return // answer to a cycle that already closed
		}
		c.setStatus(ev.slot, reqReceived)
		c.grantDisplay(ev.slot)
	case evCaptureFailed:
		if ev.cycle != c.cycleID {
			return
		}
		c.setStatus(ev.slot, reqFailed)
	case evDisplayReleased:
		if ev.slot == visualSlot {
			c.displayBusyV = false
		} else {
			c.displayBusyT = false
		}
	case evRecorderDone:
		c.recorderBusy = false
		if ev.err != nil {
			log.Printf("record write failed: %v", ev.err)
			c.stopPending = false
			c.restartPending = false
			c.stopRecording(true)
		} else {
			c.notifier.FileWritten(ev.seq)
			c.seq = ev.seq + 1
			if c.stopPending {
				restart := c.restartPending
				c.stopPending = false
				c.restartPending = false
				c.stopRecording(restart)
			}
		}
		if c.shutdownPending {
			c.shutdownPending = false
			c.shutdown()
		}
	case evStart:
		c.startRecording()
	case evStop:
		c.stopRecording(false)
	case evToggle:
		if c.recording {
			c.stopRecording(false)
		} else {
			c.startRecording()
		}
	case evShutdown:
		c.shutdown()
	case evImageRequest:
		c.pendingImage = ev.reply
	case evStatus:
		ev.status <- Status{
			Recording:      c.recording,
			StoragePresent: c.storagePresent,
			BatteryVolts:   c.volts,
			Charge:         c.charge,
			Seq:            c.seq,
		}
	case evApply:
		ev.done <- ev.apply()
	}
}

func (c *Coordinator) setStatus(slot slotID, s reqStatus) {
	if slot == visualSlot {
		c.visStatus = s
	} else {
		c.thermStatus = s
	}
}

// grantDisplay hands a freshly published slot to the display unless it
// is still rendering the previous frame for that slot.
func (c *Coordinator) grantDisplay(slot slotID) {
	if c.display == nil {
		return
	}
	switch slot {
	case visualSlot:
		if c.displayBusyV {
			return
		}
		if err := c.vslot.ClaimForDisplay(); err != nil {
			return
		}
		c.displayBusyV = true
	case thermalSlot:
		if c.displayBusyT {
			return
		}
		if err := c.tslot.ClaimForDisplay(); err != nil {
			return
		}
		c.displayBusyT = true
	}
	c.displayReq <- displayJob{slot: slot}
}

func (c *Coordinator) startRecording() {
	if c.recording {
		return
	}
	if err := c.rec.CheckCanRecord(); err != nil {
		log.Printf("cannot start recording: %v", err)
		c.notifier.Notice("cannot record: " + err.Error())
		return
	}
	if err := c.rec.StartSession(c.now()); err != nil {
		log.Printf("start session: %v", err)
		c.notifier.Notice("cannot record: " + err.Error())
		return
	}
	c.recording = true
	c.seq = 1
	// primed so the first cycle of a session writes
	c.intervalCount = c.interval() - 1
	if err := c.settings.SetRecording(true); err != nil {
		log.Printf("persist recording flag: %v", err)
	}
	c.notifier.RecordingStarted()
}

// stopRecording ends the session. With restart set the persistent
// recording flag is left in place and the system reboots, so recording
// resumes automatically on the next boot. While a write is in flight
// the recorder belongs to its worker; teardown waits for the
// completion event.
func (c *Coordinator) stopRecording(restart bool) {
	if !c.recording {
		return
	}
	if c.recorderBusy {
		c.stopPending = true
		c.restartPending = c.restartPending || restart
		return
	}
	c.recording = false
	if err := c.rec.StopSession(); err != nil {
		log.Printf("stop session: %v", err)
	}
	if restart {
		c.notifier.Notice("recording failed, rebooting to resume")
		log.Print("fatal recording failure, rebooting to resume")
		if c.system != nil {
			c.system.Reboot()
		}
		return
	}
	if err := c.settings.SetRecording(false); err != nil {
		log.Printf("persist recording flag: %v", err)
	}
	c.notifier.RecordingStopped()
}

func (c *Coordinator) shutdown() {
	if c.quit {
		return
	}
	if c.recorderBusy {
		c.shutdownPending = true
		return
	}
	c.stopRecording(false)
	log.Print("powering off")
	c.notifier.Notice("powering off")
	if c.farewell != nil {
		c.farewell()
	}
	c.sleep(farewellTime)
	if c.system != nil {
		c.system.Poweroff()
	}
	c.quit = true
}

func (c *Coordinator) pollStorage(now time.Time) {
	if c.storage == nil {
		return
	}
	if now.Sub(c.lastStoragePoll) < storagePollInterval && !c.lastStoragePoll.IsZero() {
		return
	}
	c.lastStoragePoll = now

	present := c.storage.Present()
	if present == c.storagePresent {
		return
	}
	c.storagePresent = present
	if present {
		log.Print("storage present")
		c.notifier.Notice("storage present")
		return
	}
	log.Print("storage removed")
	if c.recording {
		// removal mid-session is fatal
		c.stopRecording(true)
		return
	}
	c.notifier.Notice("storage removed")
}

func (c *Coordinator) applyCameraState(state settings.CameraState) error {
	if !settings.ValidInterval(state.IntervalSecs) {
		clamped := nearestInterval(state.IntervalSecs)
		log.Printf("interval %ds not allowed, using %ds", state.IntervalSecs, clamped)
		state.IntervalSecs = clamped
	}
	if !settings.ValidPalette(state.Palette) {
		log.Printf("unknown palette %q, using %q", state.Palette, settings.DefaultPalette)
		state.Palette = settings.DefaultPalette
	}

	old := c.camState
	if err := c.settings.SetCamera(state); err != nil {
		return err
	}
	c.camState = c.settings.Camera()

	if c.thermal != nil && c.camState.Gain != old.Gain {
		gain := lepton.GainMode(c.camState.Gain)
		select {
		case c.thermalReq <- thermalJob{gain: &gain}:
		default:
			log.Print("thermal worker busy, gain change deferred to next request")
		}
	}
	if c.display != nil && c.camState.Palette != old.Palette {
		select {
		case c.displayReq <- displayJob{palette: c.camState.Palette}:
		default:
		}
	}
	return nil
}

func (c *Coordinator) applyWifi(info settings.WifiInfo) error {
	if err := c.settings.SetWifi(info); err != nil {
		return err
	}
	if c.network != nil {
		if err := c.network.Apply(info); err != nil {
			log.Printf("network reconfigure: %v", err)
			c.notifier.Notice("network reconfigure failed")
			return err
		}
	}
	return nil
}

func nearestInterval(secs int) int {
	best := settings.RecordIntervals[0]
	for _, allowed := range settings.RecordIntervals {
		if abs(secs-allowed) < abs(secs-best) {
			best = allowed
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
