package controller

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine(StateNoCredentials)

	if sm.Transition(StateSynthesizing) {
		t.Fatal("synthesizing without credentials must be rejected")
	}
	var seen []string
	sm.AddListener(func(from, to State) { seen = append(seen, from.String()+">"+to.String()) })

	for _, next := range []State{StateRequestingCredentials, StateVerifying, StateReady, StateSynthesizing, StatePlaying, StateReady} {
		if !sm.Transition(next) {
			t.Fatalf("transition to %s rejected from %s", next, sm.Current())
		}
	}
	if len(seen) != 6 || seen[0] != "no-credentials>requesting-credentials" {
		t.Fatalf("unexpected listener calls %v", seen)
	}
	if !sm.Transition(StateReady) {
		t.Fatal("self transition should succeed")
	}
	if len(seen) != 6 {
		t.Fatal("self transition must not notify")
	}
}

func TestFailedOnlyReturnsToReadyOrNoCredentials(t *testing.T) {
	sm := NewStateMachine(StateReady)
	sm.Transition(StateSynthesizing)
	sm.Transition(StateFailed)
	if sm.Transition(StatePlaying) {
		t.Fatal("failed -> playing must be rejected")
	}
	if !sm.Transition(StateReady) {
		t.Fatal("failed -> ready must be allowed")
	}
}
