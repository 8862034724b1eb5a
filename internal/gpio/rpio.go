package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

var (
	rpioOpen  = rpio.Open
	rpioClose = rpio.Close
	rpioWrite = func(n int, high bool) {
		pin := rpio.Pin(n)
		pin.Output()
		if high {
			pin.High()
		} else {
			pin.Low()
		}
	}
	rpioRead = func(n int) bool {
		return rpio.Pin(n).Read() == rpio.High
	}
)

type rpioBackend struct{}

func (rpioBackend) name() string { return "rpio" }

func (rpioBackend) set(pin model.GPIOPin, active bool) error {
	rpioWrite(pin.Number, active == pin.ActiveHigh)
	return nil
}

func (rpioBackend) read(pin model.GPIOPin) (bool, error) {
	return rpioRead(pin.Number) == pin.ActiveHigh, nil
}

func (rpioBackend) close() error {
	return rpioClose()
}

// NewRPIO maps /dev/gpiomem and drives the pins directly.
func NewRPIO(specs []ChannelSpec) (*Relays, error) {
	if err := rpioOpen(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return newRelays(rpioBackend{}, specs), nil
}
