package gpio

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Readback compares the state the driver last wrote to a channel with what
// the pin reports.
type Readback struct {
	Channel   int
	Label     string
	Commanded bool
	Actual    bool
	Err       error
}

func (rb Readback) Mismatch() bool {
	return rb.Err == nil && rb.Commanded != rb.Actual
}

// Readback reads every channel under the driver lock so no write can land
// between the commanded and physical samples.
func (r *Relays) Readback() []Readback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Readback, 0, len(r.ids))
	for _, id := range r.ids {
		spec := r.channels[id]
		actual, err := r.backend.read(spec.Pin)
		out = append(out, Readback{
			Channel:   id,
			Label:     r.Label(id),
			Commanded: r.state[id],
			Actual:    actual,
			Err:       err,
		})
	}
	return out
}

// VerifySafeState reads back every channel and fails if any relay is still
// energized. The driver forces everything off at construction, so a failure
// here means the hardware is not following the writes.
func VerifySafeState(r *Relays) error {
	channels := r.Readback()
	for _, rb := range channels {
		if rb.Err != nil {
			return fmt.Errorf("failed to read %s (channel %d): %w", rb.Label, rb.Channel, rb.Err)
		}
		if rb.Actual {
			return fmt.Errorf("%w: %s (channel %d)", ErrUnsafeState, rb.Label, rb.Channel)
		}
	}
	log.Info().Int("channels", len(channels)).Msg("Startup relay state verified")
	return nil
}
