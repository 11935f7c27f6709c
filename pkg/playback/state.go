// ABOUTME: Playback state machine
// ABOUTME: Five timing states with a validated compare-and-swap transition table
package playback

import "sync/atomic"

// State is the engine's timing state
type State int32

const (
	StateInitializing State = iota
	StateWaitingForStart
	StatePlaying
	StateReanchoring
	StateDraining
)

// States lists every state in order
func States() []State {
	return []State{StateInitializing, StateWaitingForStart, StatePlaying, StateReanchoring, StateDraining}
}

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateWaitingForStart:
		return "WAITING_FOR_START"
	case StatePlaying:
		return "PLAYING"
	case StateReanchoring:
		return "REANCHORING"
	case StateDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// validTransition reports whether from -> to is in the transition table.
// Any state may return to INITIALIZING (stop, clear, exhaustion, reanchor).
func validTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == StateInitializing {
		return true
	}
	switch from {
	case StateInitializing:
		return to == StateWaitingForStart
	case StateWaitingForStart:
		return to == StatePlaying || to == StateDraining
	case StatePlaying:
		return to == StateReanchoring || to == StateDraining
	case StateReanchoring:
		return to == StateWaitingForStart
	case StateDraining:
		return to == StatePlaying
	}
	return false
}

// stateMachine holds the current state; every accepted change is reported
type stateMachine struct {
	state    atomic.Int32
	onChange func(State)
}

func (m *stateMachine) Load() State {
	return State(m.state.Load())
}

// transition moves from -> to if the state is still from and the move is legal
func (m *stateMachine) transition(from, to State) bool {
	if !validTransition(from, to) {
		return false
	}
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if m.onChange != nil {
		m.onChange(to)
	}
	return true
}

// reset forces INITIALIZING from whatever state is current
func (m *stateMachine) reset() bool {
	for {
		cur := m.Load()
		if cur == StateInitializing {
			return false
		}
		if m.transition(cur, StateInitializing) {
			return true
		}
	}
}
