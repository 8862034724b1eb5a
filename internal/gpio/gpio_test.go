package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

type fakeBackend struct {
	levels map[int]bool
	writes []int
	failOn map[int]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{levels: map[int]bool{}, failOn: map[int]bool{}}
}

func (f *fakeBackend) name() string { return "fake" }

func (f *fakeBackend) set(pin model.GPIOPin, active bool) error {
	if f.failOn[pin.Number] {
		return errors.New("bus error")
	}
	f.writes = append(f.writes, pin.Number)
	f.levels[pin.Number] = active
	return nil
}

func (f *fakeBackend) read(pin model.GPIOPin) (bool, error) {
	return f.levels[pin.Number], nil
}

func (f *fakeBackend) close() error { return nil }

func testSpecs() []ChannelSpec {
	pins := map[int]int{1: 27, 2: 3, 3: 22, 4: 18, 5: 23, 6: 24, 7: 25}
	var specs []ChannelSpec
	for id := 1; id <= 7; id++ {
		specs = append(specs, ChannelSpec{ID: id, Label: config.DefaultLabel(id), Pin: model.GPIOPin{Number: pins[id]}})
	}
	return specs
}

func TestNewForcesAllOff(t *testing.T) {
	fb := newFakeBackend()
	fb.levels[27] = true

	r := newRelays(fb, testSpecs())

	assert.Len(t, fb.writes, 7)
	for id := 1; id <= 7; id++ {
		on, err := r.IsOn(id)
		require.NoError(t, err)
		assert.False(t, on)
	}
	assert.False(t, fb.levels[27])
}

func TestTurnOnOff_Idempotent(t *testing.T) {
	fb := newFakeBackend()
	r := newRelays(fb, testSpecs())
	fb.writes = nil

	require.NoError(t, r.TurnOn(2))
	require.NoError(t, r.TurnOn(2))
	on, _ := r.IsOn(2)
	assert.True(t, on)
	assert.Equal(t, []int{3}, fb.writes, "second TurnOn must not touch the pin")

	require.NoError(t, r.TurnOff(2))
	require.NoError(t, r.TurnOff(2))
	on, _ = r.IsOn(2)
	assert.False(t, on)
	assert.Equal(t, []int{3, 3}, fb.writes)
}

func TestUnknownChannel(t *testing.T) {
	r := NewSim(testSpecs())

	assert.ErrorIs(t, r.TurnOn(8), ErrUnknownChannel)
	assert.ErrorIs(t, r.TurnOff(0), ErrUnknownChannel)
	_, err := r.IsOn(9)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = r.Toggle(-1)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestToggle(t *testing.T) {
	r := NewSim(testSpecs())

	on, err := r.Toggle(6)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = r.Toggle(6)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestAllOff_BestEffort(t *testing.T) {
	fb := newFakeBackend()
	r := newRelays(fb, testSpecs())
	for id := 1; id <= 7; id++ {
		require.NoError(t, r.TurnOn(id))
	}

	fb.failOn[22] = true
	assert.NotPanics(t, r.AllOff)

	for _, ch := range r.Channels() {
		if ch.ID == 3 {
			assert.True(t, ch.On, "failed write keeps tracked state")
			continue
		}
		assert.False(t, ch.On, "channel %d", ch.ID)
	}
}

func TestTurnOn_BackendError(t *testing.T) {
	fb := newFakeBackend()
	r := newRelays(fb, testSpecs())
	fb.failOn[24] = true

	err := r.TurnOn(6)
	assert.Error(t, err)
	on, _ := r.IsOn(6)
	assert.False(t, on)
}

func TestChannelsAndLabels(t *testing.T) {
	r := NewSim(testSpecs())
	require.NoError(t, r.TurnOn(7))

	chs := r.Channels()
	require.Len(t, chs, 7)
	assert.Equal(t, model.Channel{ID: 7, Label: "Pump 2", On: true}, chs[6])
	assert.Equal(t, "Valve 1", r.Label(1))
	assert.Equal(t, "channel 12", r.Label(12))
}

func TestPinctrlPolarity(t *testing.T) {
	drives := map[int]bool{}
	origDrive, origLevel := pinDrive, pinLevel
	pinDrive = func(pin int, high bool) error {
		drives[pin] = high
		return nil
	}
	pinLevel = func(pin int) (bool, error) { return drives[pin], nil }
	t.Cleanup(func() { pinDrive, pinLevel = origDrive, origLevel })

	specs := []ChannelSpec{
		{ID: 1, Pin: model.GPIOPin{Number: 27, ActiveHigh: false}},
		{ID: 2, Pin: model.GPIOPin{Number: 3, ActiveHigh: true}},
	}
	r := NewPinctrl(specs)
	assert.True(t, drives[27], "active-low relay idles high")
	assert.False(t, drives[3])

	require.NoError(t, r.TurnOn(1))
	require.NoError(t, r.TurnOn(2))
	assert.False(t, drives[27])
	assert.True(t, drives[3])

	rb := r.Readback()
	require.Len(t, rb, 2)
	assert.True(t, rb[0].Actual)
	assert.False(t, rb[0].Mismatch())
}

func TestRPIOBackend(t *testing.T) {
	levels := map[int]bool{}
	opened, closed := false, false
	origOpen, origClose, origWrite, origRead := rpioOpen, rpioClose, rpioWrite, rpioRead
	rpioOpen = func() error { opened = true; return nil }
	rpioClose = func() error { closed = true; return nil }
	rpioWrite = func(n int, high bool) { levels[n] = high }
	rpioRead = func(n int) bool { return levels[n] }
	t.Cleanup(func() { rpioOpen, rpioClose, rpioWrite, rpioRead = origOpen, origClose, origWrite, origRead })

	r, err := NewRPIO(testSpecs())
	require.NoError(t, err)
	assert.True(t, opened)
	assert.True(t, levels[24], "active-low pump idles high")

	require.NoError(t, r.TurnOn(6))
	assert.False(t, levels[24])

	r.Shutdown()
	assert.True(t, levels[24])
	assert.True(t, closed)
}

func TestRPIOOpenError(t *testing.T) {
	orig := rpioOpen
	rpioOpen = func() error { return errors.New("no /dev/gpiomem") }
	t.Cleanup(func() { rpioOpen = orig })

	_, err := NewRPIO(testSpecs())
	assert.Error(t, err)
}

func TestNew_SafeModeForcesSim(t *testing.T) {
	cfg, err := config.Parse([]byte("safe_mode: true\ngpio: {driver: pinctrl}\n"))
	require.NoError(t, err)

	origDrive := pinDrive
	pinDrive = func(int, bool) error {
		t.Fatal("safe mode must not write pins")
		return nil
	}
	t.Cleanup(func() { pinDrive = origDrive })

	r, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sim", r.backend.name())
	assert.Len(t, r.Channels(), 7)
}

func TestVerifySafeState(t *testing.T) {
	fb := newFakeBackend()
	r := newRelays(fb, testSpecs())
	require.NoError(t, VerifySafeState(r))

	fb.levels[25] = true
	err := VerifySafeState(r)
	assert.ErrorIs(t, err, ErrUnsafeState)
	assert.Contains(t, err.Error(), "Pump 2")
}

func TestReadback(t *testing.T) {
	fb := newFakeBackend()
	r := newRelays(fb, testSpecs())
	require.NoError(t, r.TurnOn(2))

	fb.levels[22] = true
	fb.levels[3] = false

	byID := map[int]Readback{}
	for _, rb := range r.Readback() {
		byID[rb.Channel] = rb
	}
	require.Len(t, byID, 7)

	assert.False(t, byID[1].Mismatch())
	assert.True(t, byID[2].Commanded)
	assert.False(t, byID[2].Actual)
	assert.True(t, byID[2].Mismatch())
	assert.True(t, byID[3].Mismatch())
	assert.Equal(t, "Valve 3", byID[3].Label)
}
