package failsafecontroller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/gpio"
)

type Relays interface {
	Readback() []gpio.Readback
}

type Stopper interface {
	EmergencyStop(reason string) error
}

type FailsafeAction struct {
	Trip       bool
	Strikes    int
	Mismatched []gpio.Readback
	ReadErrors []gpio.Readback
}

// Controller trips an emergency stop when relays stop following the driver:
// TripAfter consecutive polls with at least one channel whose pin level
// differs from the commanded state. It trips once per fault and re-arms after
// a clean poll.
type Controller struct {
	relays    Relays
	stopper   Stopper
	tripAfter int
	strikes   int
	tripped   bool
}

func New(relays Relays, stopper Stopper, tripAfter int) *Controller {
	if tripAfter < 1 {
		tripAfter = 1
	}
	return &Controller{relays: relays, stopper: stopper, tripAfter: tripAfter}
}

// RunFailsafeController polls every interval until ctx is done.
func RunFailsafeController(ctx context.Context, c *Controller, interval time.Duration) {
	go func() {
		log.Info().Dur("interval", interval).Int("trip_after", c.tripAfter).Msg("Starting failsafe controller")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Msg("Failsafe controller stopped")
				return
			case <-ticker.C:
				c.Check()
			}
		}
	}()
}

// Check runs one evaluation cycle.
func (c *Controller) Check() FailsafeAction {
	action := evaluateFailsafeActions(c.relays.Readback(), c.strikes, c.tripAfter)
	c.strikes = action.Strikes

	if len(action.Mismatched) == 0 {
		if c.tripped {
			log.Info().Msg("Relay readback consistent again - failsafe re-armed")
		}
		c.tripped = false
	}
	if action.Trip && c.tripped {
		action.Trip = false
	}
	if action.Trip {
		c.tripped = true
	}

	executeFailsafeActions(c.stopper, action)
	return action
}

func evaluateFailsafeActions(readings []gpio.Readback, strikes, tripAfter int) FailsafeAction {
	var action FailsafeAction

	for _, rb := range readings {
		if rb.Err != nil {
			action.ReadErrors = append(action.ReadErrors, rb)
			continue
		}
		if rb.Mismatch() {
			log.Warn().
				Int("channel", rb.Channel).
				Str("label", rb.Label).
				Bool("commanded", rb.Commanded).
				Bool("actual", rb.Actual).
				Msg("Relay readback does not match commanded state")
			action.Mismatched = append(action.Mismatched, rb)
		}
	}

	if len(action.Mismatched) == 0 {
		return action
	}
	action.Strikes = strikes + 1
	action.Trip = action.Strikes >= tripAfter
	return action
}

func executeFailsafeActions(stopper Stopper, action FailsafeAction) {
	for _, rb := range action.ReadErrors {
		log.Error().Err(rb.Err).Int("channel", rb.Channel).Str("label", rb.Label).Msg("Failsafe could not read relay")
	}

	if !action.Trip {
		return
	}

	labels := make([]string, 0, len(action.Mismatched))
	for _, rb := range action.Mismatched {
		labels = append(labels, rb.Label)
	}
	reason := fmt.Sprintf("relay readback mismatch: %s", strings.Join(labels, ", "))

	log.Warn().Str("reason", reason).Int("strikes", action.Strikes).Msg("Activating failsafe emergency stop")
	if err := stopper.EmergencyStop(reason); err != nil {
		log.Error().Err(err).Msg("Failsafe emergency stop failed")
	}
}
