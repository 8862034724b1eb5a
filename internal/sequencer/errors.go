package sequencer

import "errors"

var (
	// ErrUnknownProcess is returned for a process name outside the four known ones.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrRunActive is returned when a start is requested while a run, or the
	// close-out of a graceful stop, is still in progress.
	ErrRunActive = errors.New("a process is already running")

	ErrInvalidDuration = errors.New("duration must be positive")
)
