// Package sequencer drives the ultrafiltration processes over the relay
// channels.
//
// A run walks each process through three timed stages:
//
//	Opening  process valves on, pump engages after PumpEngageDelay
//	Running  pump on for the configured duration
//	Closing  pump off, valves close after ValveCloseDelay
//
// forward_wash additionally opens valve 5 at the close mark and shuts it one
// ValveCloseDelay later. In an auto cycle the next process starts as soon as
// the previous one has closed: fast_rinse, service, back_wash, forward_wash,
// then service, back_wash, forward_wash until stopped.
//
// # Threading
//
// A Sequencer is not safe for concurrent use. Every method, and every action
// it schedules, must run on the scheduler's goroutine. The controller package
// marshals outside callers onto that goroutine.
//
// The driver is shared: writes made directly against it while a run is active
// are not excluded and can leave a process in a state it did not expect.
package sequencer
