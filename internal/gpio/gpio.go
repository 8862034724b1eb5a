package gpio

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// Driver is the single owner of relay channel state.
type Driver interface {
	TurnOn(ch int) error
	TurnOff(ch int) error
	IsOn(ch int) (bool, error)
	Toggle(ch int) (bool, error)
	// AllOff forces every channel off. It never fails; write errors are logged
	// and the sweep continues.
	AllOff()
	Shutdown()
	Channels() []model.Channel
	Label(ch int) string
}

// ChannelSpec binds a logical channel to a physical pin.
type ChannelSpec struct {
	ID    int
	Label string
	Pin   model.GPIOPin
}

// backend writes and reads logical (active/inactive) pin states.
type backend interface {
	name() string
	set(pin model.GPIOPin, active bool) error
	read(pin model.GPIOPin) (bool, error)
	close() error
}

// Relays is a Driver over a set of relay channels. Calls are serialized, but
// callers outside the sequencer can still interleave writes with a run.
type Relays struct {
	mu       sync.Mutex
	backend  backend
	channels map[int]ChannelSpec
	ids      []int
	state    map[int]bool
}

func newRelays(b backend, specs []ChannelSpec) *Relays {
	r := &Relays{
		backend:  b,
		channels: make(map[int]ChannelSpec, len(specs)),
		state:    make(map[int]bool, len(specs)),
	}
	for _, s := range specs {
		r.channels[s.ID] = s
		r.ids = append(r.ids, s.ID)
	}
	sort.Ints(r.ids)

	log.Info().Str("driver", b.name()).Int("channels", len(r.ids)).Msg("Initializing relay driver")
	r.AllOff()
	return r
}

// New builds the driver selected by cfg. Safe mode always selects the
// simulator so no pin is ever written.
func New(cfg config.Config) (*Relays, error) {
	kind := cfg.GPIO.Driver
	if cfg.SafeMode && kind != config.DriverSim {
		log.Warn().Str("driver", kind).Msg("Safe mode enabled, using simulated relays")
		kind = config.DriverSim
	}

	specs := SpecsFromConfig(cfg)
	switch kind {
	case config.DriverSim:
		return NewSim(specs), nil
	case config.DriverPinctrl:
		return NewPinctrl(specs), nil
	case config.DriverRPIO:
		return NewRPIO(specs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, kind)
	}
}

func SpecsFromConfig(cfg config.Config) []ChannelSpec {
	var specs []ChannelSpec
	for _, id := range cfg.ChannelIDs() {
		ch := cfg.GPIO.Channels[id]
		specs = append(specs, ChannelSpec{
			ID:    id,
			Label: ch.Label,
			Pin:   model.GPIOPin{Number: *ch.Pin, ActiveHigh: cfg.GPIO.ActiveHigh},
		})
	}
	return specs
}

func (r *Relays) lookup(ch int) (ChannelSpec, error) {
	spec, ok := r.channels[ch]
	if !ok {
		return ChannelSpec{}, fmt.Errorf("%w: %d", ErrUnknownChannel, ch)
	}
	return spec, nil
}

func (r *Relays) TurnOn(ch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(ch, true)
}

func (r *Relays) TurnOff(ch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(ch, false)
}

func (r *Relays) setLocked(ch int, on bool) error {
	spec, err := r.lookup(ch)
	if err != nil {
		return err
	}
	if r.state[ch] == on {
		return nil
	}
	if err := r.backend.set(spec.Pin, on); err != nil {
		log.Error().Err(err).Int("channel", ch).Int("pin", spec.Pin.Number).Bool("on", on).Msg("Failed to drive relay")
		return fmt.Errorf("channel %d: %w", ch, err)
	}
	r.state[ch] = on
	log.Debug().Int("channel", ch).Str("label", spec.Label).Bool("on", on).Msg("Relay changed")
	return nil
}

func (r *Relays) IsOn(ch int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookup(ch); err != nil {
		return false, err
	}
	return r.state[ch], nil
}

func (r *Relays) Toggle(ch int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookup(ch); err != nil {
		return false, err
	}
	next := !r.state[ch]
	if err := r.setLocked(ch, next); err != nil {
		return r.state[ch], err
	}
	return next, nil
}

func (r *Relays) AllOff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.ids {
		spec := r.channels[id]
		if err := r.backend.set(spec.Pin, false); err != nil {
			log.Error().Err(err).Int("channel", id).Int("pin", spec.Pin.Number).Msg("Failed to force relay off")
			continue
		}
		r.state[id] = false
	}
}

func (r *Relays) Shutdown() {
	r.AllOff()
	if err := r.backend.close(); err != nil {
		log.Warn().Err(err).Str("driver", r.backend.name()).Msg("Failed to release GPIO")
	}
	log.Info().Msg("All relays off")
}

func (r *Relays) Channels() []model.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Channel, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, model.Channel{ID: id, Label: r.channels[id].Label, On: r.state[id]})
	}
	return out
}

func (r *Relays) Label(ch int) string {
	if spec, ok := r.channels[ch]; ok && spec.Label != "" {
		return spec.Label
	}
	return "channel " + strconv.Itoa(ch)
}
