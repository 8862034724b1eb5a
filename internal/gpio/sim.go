package gpio

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

type simBackend struct {
	mu     sync.Mutex
	levels map[int]bool
	writes int
}

func (s *simBackend) name() string { return "sim" }

func (s *simBackend) set(pin model.GPIOPin, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[pin.Number] = active
	s.writes++
	log.Info().Int("pin", pin.Number).Bool("active", active).Msg("Simulated relay write")
	return nil
}

func (s *simBackend) read(pin model.GPIOPin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin.Number], nil
}

func (s *simBackend) close() error { return nil }

// NewSim returns a driver that only records state.
func NewSim(specs []ChannelSpec) *Relays {
	return newRelays(&simBackend{levels: map[int]bool{}}, specs)
}
