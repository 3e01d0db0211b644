package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openthermal/timelapse-recorder/bundle"
	"github.com/openthermal/timelapse-recorder/lepton"
	"github.com/openthermal/timelapse-recorder/power"
	"github.com/openthermal/timelapse-recorder/settings"
	"github.com/openthermal/timelapse-recorder/slots"
)

// The workers are not started in these tests; the harness plays their
// part by answering capture requests and write jobs directly, so every
// tick and event is deterministic.

type stubVisual struct{}

func (stubVisual) CaptureJPEG() ([]byte, error) { return nil, errors.New("not used") }

type stubThermal struct{}

func (stubThermal) CaptureFrame() ([]uint16, lepton.Telemetry, error) {
	return nil, nil, errors.New("not used")
}
func (stubThermal) SetGain(lepton.GainMode) error { return nil }

type fakeRecorder struct {
	canRecordErr error
	startErr     error
	sessions     int
	stops        int
}

func (f *fakeRecorder) CheckCanRecord() error { return f.canRecordErr }
func (f *fakeRecorder) StartSession(time.Time) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.sessions++
	return nil
}
func (f *fakeRecorder) WriteBundle(int, []byte) error { return nil }
func (f *fakeRecorder) StopSession() error {
	f.stops++
	return nil
}

type fakeStorage struct {
	present bool
}

func (f *fakeStorage) Present() bool { return f.present }
func (f *fakeStorage) Root() string  { return "/media/card" }

type fakeSystem struct {
	reboots   int
	poweroffs int
	clock     time.Time
}

func (f *fakeSystem) Reboot()   { f.reboots++ }
func (f *fakeSystem) Poweroff() { f.poweroffs++ }
func (f *fakeSystem) SetClock(t time.Time) error {
	f.clock = t
	return nil
}

type fakeNotifier struct {
	started int
	stopped int
	files   []int
	notices []string
}

func (f *fakeNotifier) RecordingStarted() { f.started++ }
func (f *fakeNotifier) RecordingStopped() { f.stopped++ }
func (f *fakeNotifier) FileWritten(seq int) {
	f.files = append(f.files, seq)
}
func (f *fakeNotifier) Notice(msg string) {
	f.notices = append(f.notices, msg)
}

type fakeGauge struct {
	volts float64
}

func (f *fakeGauge) BatteryVolts() (float64, error) { return f.volts, nil }

type harness struct {
	t        *testing.T
	c        *Coordinator
	rec      *fakeRecorder
	storage  *fakeStorage
	sys      *fakeSystem
	notif    *fakeNotifier
	st       *settings.Settings
	now      time.Time
	farewell int
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithSupply(t, nil)
}

func newHarnessWithSupply(t *testing.T, supply *power.Supply) *harness {
	st, err := settings.Load(&settings.MemStore{})
	require.NoError(t, err)

	h := &harness{
		t:       t,
		rec:     &fakeRecorder{},
		storage: &fakeStorage{present: true},
		sys:     &fakeSystem{},
		notif:   &fakeNotifier{},
		st:      st,
		now:     time.Date(2022, 5, 1, 12, 0, 0, 0, time.Local),
	}
	h.c = New(Config{
		DeviceName: "cam-1",
		Version:    "1.0",
		Visual:     stubVisual{},
		Thermal:    stubThermal{},
		VSlot:      slots.NewVSlot(64 * 1024),
		TSlot:      slots.NewTSlot(lepton.NumPixels, lepton.TelemetryWords),
		Recorder:   h.rec,
		Storage:    h.storage,
		Settings:   st,
		Supply:     supply,
		Notifier:   h.notif,
		System:     h.sys,
		Farewell:   func() { h.farewell++ },
	})
	h.c.now = func() time.Time { return h.now }
	h.c.sleep = func(time.Duration) {}
	return h
}

// openCycle advances the clock past the next second boundary and
// ticks.
func (h *harness) openCycle() {
	h.now = h.now.Truncate(time.Second).Add(time.Second)
	h.c.tick(h.now)
	require.Equal(h.t, waitImages, h.c.state, "cycle must open on second change")
}

// advance moves the clock within the current cycle and ticks.
func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.c.tick(h.now)
}

func testJPEG() []byte {
	return []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
}

func testPixels() []uint16 {
	pix := make([]uint16, lepton.NumPixels)
	for i := range pix {
		pix[i] = uint16(2900 + i%100)
	}
	return pix
}

func (h *harness) visualJob() captureJob {
	select {
	case job := <-h.c.visualReq:
		return job
	default:
		h.t.Fatal("no visual capture request pending")
		return captureJob{}
	}
}

func (h *harness) thermalJob() thermalJob {
	select {
	case job := <-h.c.thermalReq:
		return job
	default:
		h.t.Fatal("no thermal capture request pending")
		return thermalJob{}
	}
}

func (h *harness) publishVisual() {
	job := h.visualJob()
	require.NoError(h.t, h.c.vslot.Publish(testJPEG()))
	h.c.handleEvent(event{kind: evCaptureDone, slot: visualSlot, cycle: job.cycle})
}

func (h *harness) failVisual() {
	job := h.visualJob()
	require.NoError(h.t, h.c.vslot.Fail())
	h.c.handleEvent(event{kind: evCaptureFailed, slot: visualSlot, cycle: job.cycle})
}

func (h *harness) publishThermal() {
	job := h.thermalJob()
	telem := make([]uint16, lepton.TelemetryWords)
	require.NoError(h.t, h.c.tslot.Publish(testPixels(), telem))
	h.c.handleEvent(event{kind: evCaptureDone, slot: thermalSlot, cycle: job.cycle})
}

func (h *harness) failThermal() {
	job := h.thermalJob()
	require.NoError(h.t, h.c.tslot.Fail())
	h.c.handleEvent(event{kind: evCaptureFailed, slot: thermalSlot, cycle: job.cycle})
}

func (h *harness) recorderJob() (recorderJob, bool) {
	select {
	case job := <-h.c.recorderReq:
		return job, true
	default:
		return recorderJob{}, false
	}
}

func (h *harness) finishWrite(job recorderJob) {
	h.c.handleEvent(event{kind: evRecorderDone, seq: job.seq})
}

func (h *harness) startRecording() {
	h.c.handleEvent(event{kind: evStart})
	require.True(h.t, h.c.recording)
}

func TestStartRecording(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	assert.Equal(t, 1, h.rec.sessions)
	assert.Equal(t, 1, h.c.seq)
	assert.True(t, h.st.Recording(), "flag must persist")
	assert.Equal(t, 1, h.notif.started)
}

func TestStartRecordingFailsCleanlyWithoutStorage(t *testing.T) {
	h := newHarness(t)
	h.rec.canRecordErr = errors.New("no storage present")
	h.c.handleEvent(event{kind: evStart})

	assert.False(t, h.c.recording)
	assert.False(t, h.st.Recording())
	require.NotEmpty(t, h.notif.notices)
	assert.Contains(t, h.notif.notices[0], "no storage")
}

func TestCycleWritesFullBundle(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(TickInterval)

	require.Equal(t, waitTopOfSecond, h.c.state, "early commit expected")
	job, ok := h.recorderJob()
	require.True(t, ok)
	assert.Equal(t, 1, job.seq)

	b, err := bundle.Decode(job.data)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", b.Metadata.Camera)
	assert.Equal(t, 1, b.Metadata.SequenceNumber)
	assert.Equal(t, "OFF", b.Metadata.Charge)
	assert.Equal(t, testJPEG(), b.JPEG)
	assert.NotEmpty(t, b.Radiometric)
	assert.NotEmpty(t, b.Telemetry)
	require.NotNil(t, b.Metadata.FPATemp)
	assert.Equal(t, "HIGH", b.Metadata.GainMode)

	h.finishWrite(job)
	assert.Equal(t, 2, h.c.seq)
	assert.Equal(t, []int{1}, h.notif.files)
}

func TestEarlyCommitWaitsForBothCameras(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	h.publishVisual()
	h.advance(TickInterval)
	assert.Equal(t, waitImages, h.c.state, "one camera missing, no early commit")

	h.publishThermal()
	h.advance(TickInterval)
	assert.Equal(t, waitTopOfSecond, h.c.state)
}

func TestDeadlineCommitsPartialBundle(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	h.failVisual()
	h.publishThermal()

	h.advance(400 * time.Millisecond)
	_, ok := h.recorderJob()
	assert.False(t, ok, "failed camera must hold commit until the deadline")

	h.advance(500 * time.Millisecond)
	job, ok := h.recorderJob()
	require.True(t, ok)

	b, err := bundle.Decode(job.data)
	require.NoError(t, err)
	assert.Empty(t, b.JPEG)
	assert.NotEmpty(t, b.Radiometric)
}

func TestDeadlineWritesMetadataOnlyBundle(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	h.failVisual()
	h.failThermal()
	h.advance(900 * time.Millisecond)

	job, ok := h.recorderJob()
	require.True(t, ok)
	b, err := bundle.Decode(job.data)
	require.NoError(t, err)
	assert.Empty(t, b.JPEG)
	assert.Empty(t, b.Radiometric)
	assert.Equal(t, "cam-1", b.Metadata.Camera)
}

func TestIdleCycleDispatchesNothing(t *testing.T) {
	h := newHarness(t)

	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(900 * time.Millisecond)

	assert.Equal(t, waitTopOfSecond, h.c.state)
	_, ok := h.recorderJob()
	assert.False(t, ok)
}

func TestIntervalThrottling(t *testing.T) {
	h := newHarness(t)
	cam := h.st.Camera()
	cam.IntervalSecs = 2
	require.NoError(t, h.st.SetCamera(cam))
	h.c.camState = h.st.Camera()

	h.startRecording()

	runCycle := func() (recorderJob, bool) {
		h.openCycle()
		h.publishVisual()
		h.publishThermal()
		h.advance(TickInterval)
		job, ok := h.recorderJob()
		if ok {
			h.finishWrite(job)
		}
		return job, ok
	}

	job, ok := runCycle() // cycle 1 writes
	require.True(t, ok)
	assert.Equal(t, 1, job.seq)

	_, ok = runCycle() // cycle 2 skipped
	assert.False(t, ok)

	job, ok = runCycle() // cycle 3 writes
	require.True(t, ok)
	assert.Equal(t, 2, job.seq)
}

func TestRecorderHonorsEnablesResponderDoesNot(t *testing.T) {
	h := newHarness(t)
	cam := h.st.Camera()
	cam.RecordVisual = false
	require.NoError(t, h.st.SetCamera(cam))
	h.c.camState = h.st.Camera()

	h.startRecording()
	reply := make(chan []byte, 1)
	h.c.handleEvent(event{kind: evImageRequest, reply: reply})

	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(TickInterval)

	job, ok := h.recorderJob()
	require.True(t, ok)
	rb, err := bundle.Decode(job.data)
	require.NoError(t, err)
	assert.Empty(t, rb.JPEG, "visual recording disabled")
	assert.NotEmpty(t, rb.Radiometric)

	select {
	case data := <-reply:
		nb, err := bundle.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, testJPEG(), nb.JPEG, "responder ignores record enables")
		assert.NotEmpty(t, nb.Radiometric)
	default:
		t.Fatal("no responder bundle delivered")
	}
}

func TestImageRequestWhileIdle(t *testing.T) {
	h := newHarness(t)
	reply := make(chan []byte, 1)
	h.c.handleEvent(event{kind: evImageRequest, reply: reply})

	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(TickInterval)

	require.Equal(t, waitTopOfSecond, h.c.state, "pending request commits the idle cycle early")
	_, ok := h.recorderJob()
	assert.False(t, ok)

	select {
	case data := <-reply:
		b, err := bundle.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, testJPEG(), b.JPEG)
		assert.NotEmpty(t, b.Radiometric)
	default:
		t.Fatal("no bundle delivered")
	}
	assert.Nil(t, h.c.pendingImage, "request is one-shot")
}

func TestFatalWriteErrorRebootsKeepingFlag(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(TickInterval)
	job, ok := h.recorderJob()
	require.True(t, ok)

	h.c.handleEvent(event{kind: evRecorderDone, seq: job.seq, err: errors.New("write failed")})

	assert.False(t, h.c.recording)
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, 1, h.sys.reboots)
	assert.True(t, h.st.Recording(), "flag stays set so recording resumes after reboot")
}

// startWrite runs one cycle far enough to put a write in the recorder
// worker's hands.
func (h *harness) startWrite() recorderJob {
	h.openCycle()
	h.publishVisual()
	h.publishThermal()
	h.advance(TickInterval)
	job, ok := h.recorderJob()
	require.True(h.t, ok)
	return job
}

func TestStopWaitsForInFlightWrite(t *testing.T) {
	h := newHarness(t)
	h.startRecording()
	job := h.startWrite()

	h.c.handleEvent(event{kind: evStop})
	assert.Zero(t, h.rec.stops, "teardown must wait for the in-flight write")
	assert.True(t, h.c.recording)
	assert.True(t, h.st.Recording())

	h.finishWrite(job)
	assert.Equal(t, 1, h.rec.stops)
	assert.False(t, h.c.recording)
	assert.False(t, h.st.Recording())
	assert.Equal(t, 1, h.notif.stopped)
}

func TestShutdownWaitsForInFlightWrite(t *testing.T) {
	h := newHarness(t)
	h.startRecording()
	job := h.startWrite()

	h.c.handleEvent(event{kind: evShutdown})
	assert.Zero(t, h.rec.stops)
	assert.Zero(t, h.sys.poweroffs)
	assert.False(t, h.c.quit)

	h.finishWrite(job)
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, 1, h.farewell)
	assert.Equal(t, 1, h.sys.poweroffs)
	assert.True(t, h.c.quit)
}

func TestStorageRemovalMidWriteDefersFatalStop(t *testing.T) {
	h := newHarness(t)
	h.startRecording()
	job := h.startWrite()

	h.storage.present = false
	h.advance(3 * time.Second)
	assert.Zero(t, h.rec.stops, "teardown must wait for the in-flight write")
	assert.Zero(t, h.sys.reboots)

	h.finishWrite(job)
	assert.Equal(t, 1, h.rec.stops)
	assert.Equal(t, 1, h.sys.reboots)
	assert.True(t, h.st.Recording(), "flag stays set so recording resumes after reboot")
}

func TestStorageRemovalWhileRecordingIsFatal(t *testing.T) {
	h := newHarness(t)
	h.startRecording()
	h.advance(time.Millisecond) // prime the storage poll

	h.storage.present = false
	h.advance(3 * time.Second)

	assert.False(t, h.c.recording)
	assert.Equal(t, 1, h.sys.reboots)
	assert.True(t, h.st.Recording())
}

func TestStorageRemovalWhileIdleIsANotice(t *testing.T) {
	h := newHarness(t)
	h.advance(time.Millisecond)

	h.storage.present = false
	h.advance(3 * time.Second)

	assert.Zero(t, h.sys.reboots)
	assert.Contains(t, h.notif.notices, "storage removed")
}

func TestDisplayGrantAndRelease(t *testing.T) {
	h := newHarness(t)
	h.c.display = nullDisplay{} // enable display handling

	h.openCycle()
	h.publishVisual()

	assert.True(t, h.c.displayBusyV)
	assert.Equal(t, slots.InUseByDisplay, h.c.vslot.State())
	select {
	case job := <-h.c.displayReq:
		assert.Equal(t, visualSlot, job.slot)
	default:
		t.Fatal("no display job issued")
	}

	// display still busy at the next top of second: camera is skipped
	h.advance(900 * time.Millisecond) // current cycle closes at the deadline
	h.openCycle()
	assert.Equal(t, reqIdle, h.c.visStatus)
	select {
	case <-h.c.visualReq:
		t.Fatal("must not request capture while display holds the slot")
	default:
	}

	require.NoError(t, h.c.vslot.ReleaseFromDisplay())
	h.c.handleEvent(event{kind: evDisplayReleased, slot: visualSlot})
	assert.False(t, h.c.displayBusyV)
}

func TestShutdownSequence(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.c.handleEvent(event{kind: evShutdown})

	assert.False(t, h.c.recording)
	assert.Equal(t, 1, h.rec.stops)
	assert.False(t, h.st.Recording(), "clean stop clears the flag")
	assert.Equal(t, 1, h.farewell)
	assert.Equal(t, 1, h.sys.poweroffs)
	assert.True(t, h.c.quit)
}

func TestResumeOnBoot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.st.SetRecording(true))

	h.c.resumeIfNeeded()
	select {
	case ev := <-h.c.events:
		h.c.handleEvent(ev)
	default:
		t.Fatal("no start event posted")
	}

	assert.True(t, h.c.recording)
	assert.Equal(t, 1, h.rec.sessions)
	assert.Equal(t, 1, h.c.seq, "new session starts at sequence 1")
}

func TestCriticalBatteryShutsDown(t *testing.T) {
	supply := power.NewSupply(&fakeGauge{volts: 3.1}, nil)
	h := newHarnessWithSupply(t, supply)

	h.openCycle()
	assert.Equal(t, 1, h.sys.poweroffs)
	assert.True(t, h.c.quit)
}

func TestUpdateCameraClampsAndPropagates(t *testing.T) {
	h := newHarness(t)

	err := h.c.applyCameraState(settings.CameraState{
		RecordVisual:  true,
		RecordThermal: true,
		Gain:          settings.GainLow,
		Palette:       "Thermochrome",
		IntervalSecs:  7,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, h.c.camState.IntervalSecs, "clamped to nearest allowed")
	assert.Equal(t, settings.DefaultPalette, h.c.camState.Palette)
	assert.Equal(t, settings.GainLow, h.st.Camera().Gain)

	job := h.thermalJob()
	require.NotNil(t, job.gain)
	assert.Equal(t, lepton.GainLow, *job.gain)
}

func TestStaleCaptureEventIgnored(t *testing.T) {
	h := newHarness(t)
	h.startRecording()

	h.openCycle()
	job := h.visualJob()
	h.thermalJob()
	h.advance(900 * time.Millisecond) // deadline passes, cycle closes

	// worker answers late, after the next cycle has already opened
	h.openCycle()
	h.c.handleEvent(event{kind: evCaptureDone, slot: visualSlot, cycle: job.cycle})
	assert.NotEqual(t, reqReceived, h.c.visStatus, "stale answer must not count")
}

type nullDisplay struct{}

func (nullDisplay) ShowJPEG([]byte) error                      { return nil }
func (nullDisplay) ShowThermal([]uint16, uint16, uint16) error { return nil }
func (nullDisplay) SetPalette(string) error                    { return nil }
