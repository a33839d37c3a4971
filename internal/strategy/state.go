package strategy

import "fmt"

// State is a scan's position in its lifecycle:
//
//	Idle -> Running -> {Converged, TimedOut, Failed}
//	Converged, TimedOut -> Done
type State int

const (
	StateIdle State = iota
	StateRunning
	StateConverged
	StateTimedOut
	StateFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateTimedOut:
		return "timed-out"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:      {StateRunning},
	StateRunning:   {StateConverged, StateTimedOut, StateFailed},
	StateConverged: {StateDone},
	StateTimedOut:  {StateDone},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
