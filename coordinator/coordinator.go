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

// Package coordinator drives the second-aligned capture cycle. It owns
// both image slots, fans captured frames out to the recorder, the
// network responder and the display, and handles start/stop, resume
// after reboot, fatal storage failures and shutdown.
//
// All cycle state lives on the coordinator goroutine. Workers talk to
// it only through typed events; public methods are safe to call from
// any goroutine while Run is active.
package coordinator

import (
	"log"
	"time"

	"github.com/openthermal/timelapse-recorder/lepton"
	"github.com/openthermal/timelapse-recorder/loglimiter"
	"github.com/openthermal/timelapse-recorder/power"
	"github.com/openthermal/timelapse-recorder/recorder"
	"github.com/openthermal/timelapse-recorder/settings"
	"github.com/openthermal/timelapse-recorder/slots"
)

const (
	// TickInterval is the coordinator's polling cadence within a
	// cycle.
	TickInterval = 50 * time.Millisecond

	// cycleDeadline is how long after top-of-second a cycle commits
	// with whatever frames arrived.
	cycleDeadline = 800 * time.Millisecond

	storagePollInterval = 2 * time.Second
	farewellTime        = 1500 * time.Millisecond
	captureLogInterval  = 30 * time.Second
)

// VisualSource captures one JPEG still per call.
type VisualSource interface {
	CaptureJPEG() ([]byte, error)
}

// ThermalSource captures one radiometric frame per call.
type ThermalSource interface {
	CaptureFrame() ([]uint16, lepton.Telemetry, error)
	SetGain(lepton.GainMode) error
}

// DisplaySink renders preview frames.
type DisplaySink interface {
	ShowJPEG([]byte) error
	ShowThermal(samples []uint16, min, max uint16) error
	SetPalette(name string) error
}

// Notifier mirrors coordinator activity to a front end (LED, GUI,
// event log). Calls arrive on the coordinator goroutine and must not
// block.
type Notifier interface {
	RecordingStarted()
	RecordingStopped()
	FileWritten(seq int)
	Notice(msg string)
}

// NullNotifier ignores everything.
type NullNotifier struct{}

func (NullNotifier) RecordingStarted() {}
func (NullNotifier) RecordingStopped() {}
func (NullNotifier) FileWritten(int)   {}
func (NullNotifier) Notice(string)     {}

// SystemControl performs the host-level actions the coordinator can
// demand.
type SystemControl interface {
	Reboot()
	Poweroff()
	SetClock(time.Time) error
}

// NetworkControl reconfigures the radio after a set_wifi. Bring-up
// details stay behind this interface.
type NetworkControl interface {
	Apply(settings.WifiInfo) error
}

// Status is a point-in-time summary for the responder and the control
// service.
type Status struct {
	Recording      bool
	StoragePresent bool
	BatteryVolts   float64
	Charge         power.ChargeState
	Seq            int
}

type cycleState int

const (
	waitTopOfSecond cycleState = iota
	waitImages
)

type reqStatus int

const (
	reqIdle reqStatus = iota
	reqRequested
	reqReceived
	reqFailed
)

type slotID int

const (
	visualSlot slotID = iota
	thermalSlot
)

type eventKind int

const (
	evCaptureDone eventKind = iota
	evCaptureFailed
	evDisplayReleased
	evRecorderDone
	evStart
	evStop
	evToggle
	evShutdown
	evImageRequest
	evStatus
	evApply
)

type event struct {
	kind   eventKind
	slot   slotID
	cycle  int
	seq    int
	err    error
	reply  chan<- []byte
	status chan<- Status
	apply  func() error
	done   chan<- error
}

type captureJob struct {
	cycle int
}

type thermalJob struct {
	cycle int
	gain  *lepton.GainMode
}

type recorderJob struct {
	seq  int
	data []byte
}

type displayJob struct {
	slot    slotID
	palette string
}

// Config wires a Coordinator. Recorder and Settings are required;
// everything else may be nil and the matching behavior is skipped.
type Config struct {
	DeviceName string
	Version    string

	Visual  VisualSource
	Thermal ThermalSource
	VSlot   *slots.VSlot
	TSlot   *slots.TSlot

	Recorder recorder.Recorder
	Storage  recorder.Storage
	Display  DisplaySink
	Settings *settings.Settings
	Supply   *power.Supply
	Notifier Notifier
	System   SystemControl
	Network  NetworkControl

	// Watchdog is pinged every tick while the loop is healthy.
	Watchdog func()
	// Farewell renders the power-down screen.
	Farewell func()
}

type Coordinator struct {
	cameraName string
	version    string

	visual   VisualSource
	thermal  ThermalSource
	vslot    *slots.VSlot
	tslot    *slots.TSlot
	rec      recorder.Recorder
	storage  recorder.Storage
	display  DisplaySink
	settings *settings.Settings
	supply   *power.Supply
	notifier Notifier
	system   SystemControl
	network  NetworkControl
	watchdog func()
	farewell func()

	limiter *loglimiter.LogLimiter
	now     func() time.Time
	sleep   func(time.Duration)

	events      chan event
	visualReq   chan captureJob
	thermalReq  chan thermalJob
	recorderReq chan recorderJob
	displayReq  chan displayJob

	state        cycleState
	cycleID      int
	lastSecond   time.Time
	cycleStart   time.Time
	visStatus    reqStatus
	thermStatus  reqStatus
	displayBusyV bool
	displayBusyT bool
	recorderBusy bool
	pendingImage chan<- []byte

	recording     bool
	seq           int
	intervalCount int
	camState      settings.CameraState

	// set when a stop or shutdown arrived while a write was in flight;
	// acted on when the write's completion event comes back
	stopPending     bool
	restartPending  bool
	shutdownPending bool

	storagePresent  bool
	lastStoragePoll time.Time
	volts           float64
	charge          power.ChargeState

	quit bool
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cameraName: cfg.DeviceName,
		version:    cfg.Version,
		visual:     cfg.Visual,
		thermal:    cfg.Thermal,
		vslot:      cfg.VSlot,
		tslot:      cfg.TSlot,
		rec:        cfg.Recorder,
		storage:    cfg.Storage,
		display:    cfg.Display,
		settings:   cfg.Settings,
		supply:     cfg.Supply,
		notifier:   cfg.Notifier,
		system:     cfg.System,
		network:    cfg.Network,
		watchdog:   cfg.Watchdog,
		farewell:   cfg.Farewell,

		limiter: loglimiter.New(captureLogInterval),
		now:     time.Now,
		sleep:   time.Sleep,

		events:      make(chan event, 64),
		visualReq:   make(chan captureJob, 1),
		thermalReq:  make(chan thermalJob, 2),
		recorderReq: make(chan recorderJob, 1),
		displayReq:  make(chan displayJob, 4),

		seq: 1,
	}
	if c.notifier == nil {
		c.notifier = NullNotifier{}
	}
	c.camState = c.settings.Camera()
	if c.storage != nil {
		c.storagePresent = c.storage.Present()
	}
	return c
}

// Run starts the workers and drives the pacing loop until shutdown.
func (c *Coordinator) Run() error {
	if c.visual != nil {
		go c.visualWorker()
	}
	if c.thermal != nil {
		go c.thermalWorker()
	}
	go c.recorderWorker()
	if c.display != nil {
		go c.displayWorker()
	}

	c.resumeIfNeeded()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for !c.quit {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case now := <-ticker.C:
			c.tick(now)
		}
	}
	return nil
}

// StartRecording asks for a new session. Safe from any goroutine.
func (c *Coordinator) StartRecording() {
	c.events <- event{kind: evStart}
}

// StopRecording ends the current session, if any.
func (c *Coordinator) StopRecording() {
	c.events <- event{kind: evStop}
}

// ToggleRecording flips the recording state.
func (c *Coordinator) ToggleRecording() {
	c.events <- event{kind: evToggle}
}

// RequestShutdown starts the power-down sequence.
func (c *Coordinator) RequestShutdown() {
	c.events <- event{kind: evShutdown}
}

// RequestImage asks for the next cycle's bundle. reply must be
// buffered; the bundle for the current or next cycle is delivered on
// it.
func (c *Coordinator) RequestImage(reply chan<- []byte) {
	c.events <- event{kind: evImageRequest, reply: reply}
}

// Status returns a snapshot of coordinator state.
func (c *Coordinator) Status() Status {
	ch := make(chan Status, 1)
	c.events <- event{kind: evStatus, status: ch}
	return <-ch
}

// CameraState returns the current camera configuration.
func (c *Coordinator) CameraState() settings.CameraState {
	var out settings.CameraState
	c.applyOnLoop(func() error {
		out = c.camState
		return nil
	})
	return out
}

// Wifi returns the persisted network configuration.
func (c *Coordinator) Wifi() settings.WifiInfo {
	var out settings.WifiInfo
	c.applyOnLoop(func() error {
		out = c.settings.Wifi()
		return nil
	})
	return out
}

// UpdateCamera persists new camera settings and applies the side
// effects (gain, palette, interval). Out-of-range values are clamped
// with a warning rather than rejected.
func (c *Coordinator) UpdateCamera(state settings.CameraState) error {
	return c.applyOnLoop(func() error { return c.applyCameraState(state) })
}

// UpdateWifi persists new network settings and reconfigures the radio.
func (c *Coordinator) UpdateWifi(info settings.WifiInfo) error {
	return c.applyOnLoop(func() error { return c.applyWifi(info) })
}

// SetClock sets the system time. Takes effect immediately.
func (c *Coordinator) SetClock(t time.Time) error {
	return c.applyOnLoop(func() error { return c.system.SetClock(t) })
}

func (c *Coordinator) applyOnLoop(fn func() error) error {
	done := make(chan error, 1)
	c.events <- event{kind: evApply, apply: fn, done: done}
	return <-done
}

func (c *Coordinator) resumeIfNeeded() {
	if c.settings.Recording() {
		log.Print("recording was active at power down, resuming")
		c.events <- event{kind: evStart}
	}
}
