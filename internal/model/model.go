package model

import "time"

// ProcessName identifies one of the four plant processes.
type ProcessName string

const (
	FastRinse   ProcessName = "fast_rinse"
	Service     ProcessName = "service"
	BackWash    ProcessName = "back_wash"
	ForwardWash ProcessName = "forward_wash"
)

// Fixed stage gaps. These are not part of the timing table.
const (
	PumpEngageDelay = 5 * time.Second
	ValveCloseDelay = 5 * time.Second
)

// Process is the immutable template for one wash/service stage.
type Process struct {
	Name   ProcessName
	Valves []int
	Pump   int
	// ExtraValve is opened once the process valves close and closed one
	// ValveCloseDelay later. Zero means none.
	ExtraValve int
}

func (p Process) HasExtraValve() bool {
	return p.ExtraValve != 0
}

// Countdown is the time from pump start until every channel of the process
// is closed again, for a running duration d.
func (p Process) Countdown(d time.Duration) time.Duration {
	if p.HasExtraValve() {
		return d + 2*ValveCloseDelay
	}
	return d + ValveCloseDelay
}

// Channels returns every channel the process actuates.
func (p Process) Channels() []int {
	chs := append([]int{}, p.Valves...)
	chs = append(chs, p.Pump)
	if p.HasExtraValve() {
		chs = append(chs, p.ExtraValve)
	}
	return chs
}

var processes = map[ProcessName]Process{
	FastRinse:   {Name: FastRinse, Valves: []int{2, 3}, Pump: 6},
	Service:     {Name: Service, Valves: []int{1, 5}, Pump: 6},
	BackWash:    {Name: BackWash, Valves: []int{3}, Pump: 7},
	ForwardWash: {Name: ForwardWash, Valves: []int{1, 4}, Pump: 6, ExtraValve: 5},
}

// ProcessOrder is the order of the first lap of an auto cycle.
var ProcessOrder = []ProcessName{FastRinse, Service, BackWash, ForwardWash}

// Lookup returns the definition for name.
func Lookup(name ProcessName) (Process, bool) {
	p, ok := processes[name]
	if !ok {
		return Process{}, false
	}
	p.Valves = append([]int{}, p.Valves...)
	return p, true
}

// Processes returns all process definitions in cycle order.
func Processes() []Process {
	out := make([]Process, 0, len(ProcessOrder))
	for _, name := range ProcessOrder {
		p, _ := Lookup(name)
		out = append(out, p)
	}
	return out
}

// Next returns the process that follows current in an auto cycle. Rinse only
// runs at the start of a cycle: after forward_wash the loop goes back to
// service.
func Next(current ProcessName) ProcessName {
	if current == ForwardWash {
		return Service
	}
	for i, name := range ProcessOrder {
		if name == current {
			return ProcessOrder[(i+1)%len(ProcessOrder)]
		}
	}
	return FastRinse
}

// Stage is a phase of a single process run.
type Stage string

const (
	StageIdle     Stage = "idle"
	StageOpening  Stage = "opening"
	StageRunning  Stage = "running"
	StageClosing  Stage = "closing"
	StageStopping Stage = "stopping"
)

// Channel describes one relay output.
type Channel struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	On    bool   `json:"on"`
}

type GPIOPin struct {
	Number     int
	ActiveHigh bool
}

// Run outcomes recorded in the journal.
const (
	OutcomeCompleted     = "completed"
	OutcomeStopped       = "stopped"
	OutcomeEmergencyStop = "emergency_stop"
	OutcomeInterrupted   = "interrupted"
)

// Run is one journaled process execution.
type Run struct {
	ID            int64       `json:"id"`
	Process       ProcessName `json:"process"`
	StartedAt     time.Time   `json:"started_at"`
	PumpStartedAt *time.Time  `json:"pump_started_at,omitempty"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
	Outcome       string      `json:"outcome,omitempty"`
}

type ChannelEvent struct {
	ID      int64     `json:"id"`
	RunID   *int64    `json:"run_id,omitempty"`
	Channel int       `json:"channel"`
	On      bool      `json:"on"`
	At      time.Time `json:"at"`
}
