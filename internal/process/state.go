package process

import "fmt"

// State is the calibration run state.
type State int

const (
	Idle State = iota
	Settling
	Stable
	Capturing
	Advancing
	Errored
	Stopped
)

var stateNames = [...]string{
	Idle:      "Idle",
	Settling:  "Settling",
	Stable:    "Stable",
	Capturing: "Capturing",
	Advancing: "Advancing",
	Errored:   "Errored",
	Stopped:   "Stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Running reports whether a run is in progress.
func (s State) Running() bool {
	switch s {
	case Settling, Stable, Capturing, Advancing:
		return true
	}
	return false
}

// edges lists every legal transition. Anything else is a bug.
var edges = map[State][]State{
	Idle:      {Settling, Stopped},
	Settling:  {Stable, Errored, Stopped},
	Stable:    {Capturing, Stopped},
	Capturing: {Advancing, Errored, Stopped},
	Advancing: {Settling, Errored, Stopped},
	Errored:   {Stopped},
	Stopped:   {Settling},
}

func canTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TickResult says what a single supervisory tick did.
type TickResult int

const (
	TickIdle TickResult = iota
	TickSkipped
	TickNotStable
	TickAdvanced
	TickCompleted
	TickFailed
)

var tickResultNames = [...]string{
	TickIdle:      "idle",
	TickSkipped:   "skipped",
	TickNotStable: "not_stable",
	TickAdvanced:  "advanced",
	TickCompleted: "completed",
	TickFailed:    "failed",
}

func (r TickResult) String() string {
	if r >= 0 && int(r) < len(tickResultNames) {
		return tickResultNames[r]
	}
	return fmt.Sprintf("TickResult(%d)", int(r))
}
