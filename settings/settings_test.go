package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFresh(t *testing.T) (*Settings, *MemStore) {
	store := &MemStore{}
	s, err := Load(store)
	require.NoError(t, err)
	return s, store
}

func TestLoadInitializesDefaultsOnEmptyStore(t *testing.T) {
	s, store := loadFresh(t)

	assert.False(t, s.Recording())

	c := s.Camera()
	assert.True(t, c.RecordVisual)
	assert.True(t, c.RecordThermal)
	assert.Equal(t, GainAuto, c.Gain)
	assert.Equal(t, "Fusion", c.Palette)
	assert.Equal(t, 1, c.IntervalSecs)

	w := s.Wifi()
	assert.Equal(t, byte(FlagStartupEnable), w.Flags)
	assert.Equal(t, "192.168.4.1", FormatIP(w.APIP))
	assert.Equal(t, "192.168.4.2", FormatIP(w.ClientIP))

	// store was written with a valid block
	assert.Equal(t, byte(0x12), store.Bytes[0])
	assert.Equal(t, byte(0x34), store.Bytes[1])
	assert.Equal(t, byte(2), store.Bytes[2])
}

func TestLoadReinitializesOnChecksumMismatch(t *testing.T) {
	s, store := loadFresh(t)
	require.NoError(t, s.SetRecording(true))

	// corrupt a byte without fixing the checksum
	store.Bytes[addrAPSSID] ^= 0xff

	s2, err := Load(store)
	require.NoError(t, err)
	assert.False(t, s2.Recording(), "corrupt block must reset to defaults")
}

func TestRecordingFlagRoundTrip(t *testing.T) {
	s, store := loadFresh(t)

	require.NoError(t, s.SetRecording(true))
	s2, err := Load(store)
	require.NoError(t, err)
	assert.True(t, s2.Recording())

	require.NoError(t, s2.SetRecording(false))
	s3, err := Load(store)
	require.NoError(t, err)
	assert.False(t, s3.Recording())
}

func TestWifiRoundTrip(t *testing.T) {
	s, store := loadFresh(t)

	apIP, err := ParseIP("10.0.0.1")
	require.NoError(t, err)
	clIP, err := ParseIP("10.0.0.99")
	require.NoError(t, err)

	in := WifiInfo{
		Flags:          FlagStartupEnable | FlagClientMode,
		APSSID:         "camera-ap",
		APPassword:     "secret-ap",
		ClientSSID:     "home-network",
		ClientPassword: "hunter22",
		APIP:           apIP,
		ClientIP:       clIP,
	}
	require.NoError(t, s.SetWifi(in))

	s2, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, in, s2.Wifi())
}

func TestWifiRejectsOverlongStrings(t *testing.T) {
	s, _ := loadFresh(t)
	long := "0123456789012345678901234567890123456789"
	assert.Error(t, s.SetWifi(WifiInfo{APSSID: long}))
	assert.Error(t, s.SetWifi(WifiInfo{ClientPassword: long}))
}

func TestCameraRoundTrip(t *testing.T) {
	s, store := loadFresh(t)

	in := CameraState{
		RecordVisual:  false,
		RecordThermal: true,
		Gain:          GainLow,
		Palette:       "Rainbow",
		IntervalSecs:  300,
	}
	require.NoError(t, s.SetCamera(in))

	s2, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, in, s2.Camera())
}

func TestSaveCurrentIsIdempotent(t *testing.T) {
	s, store := loadFresh(t)
	require.NoError(t, s.SetCamera(s.Camera()))
	require.NoError(t, s.SetWifi(s.Wifi()))

	before := store.Bytes
	require.NoError(t, s.SetCamera(s.Camera()))
	require.NoError(t, s.SetWifi(s.Wifi()))
	assert.Equal(t, before, store.Bytes)
}

func TestCameraRepairsIllegalStoredValues(t *testing.T) {
	s, store := loadFresh(t)

	// poke an off-list interval and a bogus palette directly, then fix
	// the checksum so the block still loads
	store.Bytes[addrInterval] = 0
	store.Bytes[addrInterval+1] = 7
	copy(store.Bytes[addrPalette:], []byte("NoSuchPalette\x00"))
	var sum byte
	for _, b := range store.Bytes[:addrChecksum] {
		sum += b
	}
	store.Bytes[addrChecksum] = sum

	s, err := Load(store)
	require.NoError(t, err)
	c := s.Camera()
	assert.Equal(t, 1, c.IntervalSecs)
	assert.Equal(t, "Fusion", c.Palette)

	// the repair was written back
	s2, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, c, s2.Camera())
}

func TestUpgradeFromLayoutVersion1(t *testing.T) {
	store := &MemStore{}
	store.Bytes[addrMagic0] = 0x12
	store.Bytes[addrMagic1] = 0x34
	store.Bytes[addrLayout] = 1
	store.Bytes[addrRecording] = 1
	store.Bytes[addrWifiFlags] = FlagStartupEnable
	copy(store.Bytes[addrAPSSID:], []byte("old-camera\x00"))
	copy(store.Bytes[addrAPPassword:], []byte("old-secret\x00"))
	var sum byte
	for _, b := range store.Bytes[:addrChecksum] {
		sum += b
	}
	store.Bytes[addrChecksum] = sum

	s, err := Load(store)
	require.NoError(t, err)

	// version 1 fields preserved
	assert.True(t, s.Recording())
	w := s.Wifi()
	assert.Equal(t, "old-camera", w.APSSID)
	assert.Equal(t, "old-secret", w.APPassword)

	// new fields filled with defaults
	assert.Equal(t, "192.168.4.1", FormatIP(w.APIP))
	assert.Equal(t, "192.168.4.2", FormatIP(w.ClientIP))
	c := s.Camera()
	assert.True(t, c.RecordVisual)
	assert.True(t, c.RecordThermal)
	assert.Equal(t, GainAuto, c.Gain)
	assert.Equal(t, 1, c.IntervalSecs)
	assert.Equal(t, byte(2), store.Bytes[addrLayout])
}

func TestParseIPStoresLeastSignificantFirst(t *testing.T) {
	ip, err := ParseIP("192.168.4.1")
	require.NoError(t, err)
	assert.Equal(t, [4]byte{1, 4, 168, 192}, ip)
	assert.Equal(t, "192.168.4.1", FormatIP(ip))

	_, err = ParseIP("192.168.4")
	assert.Error(t, err)
	_, err = ParseIP("192.168.4.256")
	assert.Error(t, err)
	_, err = ParseIP("a.b.c.d")
	assert.Error(t, err)
}

func TestValidInterval(t *testing.T) {
	assert.True(t, ValidInterval(1))
	assert.True(t, ValidInterval(3600))
	assert.False(t, ValidInterval(0))
	assert.False(t, ValidInterval(7))
}

func TestParseGainMode(t *testing.T) {
	g, ok := ParseGainMode("high")
	assert.True(t, ok)
	assert.Equal(t, GainHigh, g)

	_, ok = ParseGainMode("medium")
	assert.False(t, ok)
}
