package process

import "fmt"

// State is the lifecycle state of one compiler process.
//
//	Spawned -> Running -> Exited
//	Spawned -> SpawnFailed
type State int

const (
	Spawned State = iota
	Running
	Exited
	SpawnFailed
)

func (s State) String() string {
	switch s {
	case Spawned:
		return "spawned"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case SpawnFailed:
		return "spawn_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Exited || s == SpawnFailed
}

var transitions = map[State][]State{
	Spawned: {Running, SpawnFailed},
	Running: {Exited},
}

// CanTransition reports whether from -> to is a valid lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome is the terminal result of a process run. ExitCode is -1 when the
// process never started.
type Outcome struct {
	State    State
	ExitCode int
}
