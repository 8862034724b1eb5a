package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// ExitFunc is swapped in tests.
var ExitFunc = os.Exit

type Relays interface {
	Shutdown()
}

// Shutdown forces every relay off, releases the GPIO driver and exits.
func Shutdown(relays Relays) {
	if relays != nil {
		relays.Shutdown()
		log.Info().Msg("Relays de-energized")
	}
	ExitFunc(0)
}

func ShutdownWithError(relays Relays, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if relays != nil {
		relays.Shutdown()
	}
	ExitFunc(1)
}
