// ABOUTME: Tests for the playback state machine
// ABOUTME: Transition table, compare-and-swap semantics and change notification
package playback

import "testing"

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInitializing, StateWaitingForStart, true},
		{StateInitializing, StatePlaying, false},
		{StateWaitingForStart, StatePlaying, true},
		{StateWaitingForStart, StateDraining, true},
		{StateWaitingForStart, StateReanchoring, false},
		{StatePlaying, StateReanchoring, true},
		{StatePlaying, StateDraining, true},
		{StatePlaying, StateWaitingForStart, false},
		{StateReanchoring, StateWaitingForStart, true},
		{StateReanchoring, StatePlaying, false},
		{StateDraining, StatePlaying, true},
		{StateDraining, StateWaitingForStart, false},
		{StatePlaying, StateInitializing, true},
		{StateDraining, StateInitializing, true},
		{StatePlaying, StatePlaying, false},
		{StateInitializing, StateInitializing, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := validTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStateMachineTransition(t *testing.T) {
	var seen []State
	m := &stateMachine{onChange: func(s State) { seen = append(seen, s) }}

	if !m.transition(StateInitializing, StateWaitingForStart) {
		t.Fatal("expected INITIALIZING -> WAITING_FOR_START")
	}
	if m.transition(StateInitializing, StateWaitingForStart) {
		t.Error("expected stale from-state to be rejected")
	}
	if m.transition(StateWaitingForStart, StateReanchoring) {
		t.Error("expected illegal move to be rejected")
	}
	if !m.reset() {
		t.Error("expected reset from WAITING_FOR_START")
	}
	if m.reset() {
		t.Error("expected reset in INITIALIZING to be a no-op")
	}

	want := []State{StateWaitingForStart, StateInitializing}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("change %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
}

func TestStateString(t *testing.T) {
	if StateWaitingForStart.String() != "WAITING_FOR_START" {
		t.Errorf("unexpected name %q", StateWaitingForStart.String())
	}
	if State(42).String() != "UNKNOWN" {
		t.Errorf("unexpected name %q", State(42).String())
	}
}
