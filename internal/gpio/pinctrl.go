package gpio

import (
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/pinctrl"
)

var (
	pinDrive = pinctrl.Drive
	pinLevel = pinctrl.ReadLevel
)

type pinctrlBackend struct{}

func (pinctrlBackend) name() string { return "pinctrl" }

func (pinctrlBackend) set(pin model.GPIOPin, active bool) error {
	return pinDrive(pin.Number, active == pin.ActiveHigh)
}

func (pinctrlBackend) read(pin model.GPIOPin) (bool, error) {
	level, err := pinLevel(pin.Number)
	if err != nil {
		return false, err
	}
	return level == pin.ActiveHigh, nil
}

func (pinctrlBackend) close() error { return nil }

// NewPinctrl returns a driver that shells out to the Raspberry Pi pinctrl tool.
func NewPinctrl(specs []ChannelSpec) *Relays {
	return newRelays(pinctrlBackend{}, specs)
}
