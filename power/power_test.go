package power

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"periph.io/x/periph/conn/gpio"
)

type fakeGauge struct {
	volts float64
	err   error
}

func (f *fakeGauge) BatteryVolts() (float64, error) { return f.volts, f.err }

type fakeCharger struct {
	state ChargeState
	err   error
}

func (f *fakeCharger) Charge() (ChargeState, error) { return f.state, f.err }

func TestSupplyRead(t *testing.T) {
	s := NewSupply(&fakeGauge{volts: 3.91}, &fakeCharger{state: ChargeOn})
	v, c := s.Read()
	assert.Equal(t, 3.91, v)
	assert.Equal(t, ChargeOn, c)
}

func TestSupplyKeepsLastGoodReading(t *testing.T) {
	gauge := &fakeGauge{volts: 3.91}
	charger := &fakeCharger{state: ChargeOn}
	s := NewSupply(gauge, charger)
	s.Read()

	gauge.err = errors.New("i2c glitch")
	charger.err = errors.New("i2c glitch")
	v, c := s.Read()
	assert.Equal(t, 3.91, v)
	assert.Equal(t, ChargeOn, c)
}

func TestSupplyCritical(t *testing.T) {
	gauge := &fakeGauge{volts: 3.2}
	charger := &fakeCharger{state: ChargeOff}
	s := NewSupply(gauge, charger)

	s.Read()
	assert.True(t, s.Critical())

	// charging masks a low pack
	charger.state = ChargeOn
	s.Read()
	assert.False(t, s.Critical())

	charger.state = ChargeOff
	gauge.volts = 3.9
	s.Read()
	assert.False(t, s.Critical())
}

func TestSupplyNeverCriticalBeforeFirstReading(t *testing.T) {
	s := NewSupply(nil, nil)
	assert.False(t, s.Critical())
}

func TestChargeStateStrings(t *testing.T) {
	assert.Equal(t, "OFF", ChargeOff.String())
	assert.Equal(t, "ON", ChargeOn.String())
	assert.Equal(t, "FAULT", ChargeFault.String())
}

type fakePin struct {
	level gpio.Level
}

func (f *fakePin) Read() gpio.Level { return f.level }

func runButton(pressFor time.Duration) int {
	pin := &fakePin{level: gpio.High}
	fired := 0
	b := &Button{
		pin:    pin,
		onHold: func() { fired++ },
		stop:   make(chan struct{}),
	}

	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }
	elapsed := time.Duration(0)
	b.sleep = func(d time.Duration) {
		now = now.Add(d)
		elapsed += d
		switch {
		case elapsed < 100*time.Millisecond:
			pin.level = gpio.High
		case elapsed < 100*time.Millisecond+pressFor:
			pin.level = gpio.Low
		case elapsed < 4*time.Second:
			pin.level = gpio.High
		default:
			b.Stop()
		}
	}
	b.Run()
	return fired
}

func TestButtonLongPressFiresOnce(t *testing.T) {
	assert.Equal(t, 1, runButton(2*time.Second))
}

func TestButtonShortPressIgnored(t *testing.T) {
	assert.Equal(t, 0, runButton(300*time.Millisecond))
}
