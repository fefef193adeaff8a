package controller

import "sync"

// State is the controller's position in the credential/synthesis workflow.
type State int

const (
	StateNoCredentials State = iota
	StateRequestingCredentials
	StateVerifying
	StateReady
	StateSynthesizing
	StatePlaying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoCredentials:
		return "no-credentials"
	case StateRequestingCredentials:
		return "requesting-credentials"
	case StateVerifying:
		return "verifying"
	case StateReady:
		return "ready"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateNoCredentials:         {StateRequestingCredentials, StateReady},
	StateRequestingCredentials: {StateVerifying, StateNoCredentials, StateReady},
	StateVerifying:             {StateReady, StateNoCredentials},
	StateReady:                 {StateSynthesizing, StateRequestingCredentials},
	StateSynthesizing:          {StatePlaying, StateFailed, StateRequestingCredentials, StateNoCredentials},
	StatePlaying:               {StateSynthesizing, StateRequestingCredentials, StateReady},
	StateFailed:                {StateReady, StateNoCredentials},
}

// StateChangeListener is called after every accepted transition.
type StateChangeListener func(from, to State)

// StateMachine tracks the current state and rejects transitions outside the
// workflow.
type StateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateChangeListener
}

func NewStateMachine(initial State) *StateMachine {
	return &StateMachine{current: initial}
}

func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Transition moves to next and reports whether the move was allowed.
// Staying in the same state is a no-op that succeeds.
func (sm *StateMachine) Transition(next State) bool {
	sm.mu.Lock()
	from := sm.current
	if from == next {
		sm.mu.Unlock()
		return true
	}
	if !isValidTransition(from, next) {
		sm.mu.Unlock()
		return false
	}
	sm.current = next
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, l := range listeners {
		l(from, next)
	}
	return true
}

func (sm *StateMachine) AddListener(l StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, l)
}

func isValidTransition(from, to State) bool {
	for _, valid := range validTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}
