package state

import (
	"errors"
	"sync"
)

type State interface {
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// BaseStateMachine only follows edges registered with AddTransition.
type BaseStateMachine struct {
	currentState State
	states       map[string]State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		states:       map[string]State{initialState.GetID(): initialState},
		transitions:  make(map[string]map[string]func() bool),
	}
	return machine
}

// Transition moves fromID -> toID only if the machine is currently in fromID.
// Of several concurrent callers racing the same edge exactly one succeeds.
func (sm *BaseStateMachine) Transition(fromID, toID string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	next, ok := sm.states[toID]
	if !ok {
		return ErrTransitionNotAllowed
	}
	return sm.swap(fromID, next)
}

// swap must be called with the mutex held.
func (sm *BaseStateMachine) swap(fromID string, next State) error {
	currentID := sm.currentState.GetID()
	if currentID != fromID {
		return ErrTransitionNotAllowed
	}

	conditions, exists := sm.transitions[currentID]
	if !exists {
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[next.GetID()]
	if !exists {
		return ErrTransitionNotAllowed
	}
	if condition != nil && !condition() {
		return ErrTransitionNotAllowed
	}

	sm.currentState = next
	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// Current returns the ID of the current state.
func (sm *BaseStateMachine) Current() string {
	return sm.GetCurrentState().GetID()
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()
	if fromID == toID {
		return errors.New("self transitions are not supported")
	}

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}
	sm.states[fromID] = from
	sm.states[toID] = to

	sm.transitions[fromID][toID] = condition
	return nil
}

// Phase is a named State.
type Phase struct {
	ID string
}

func (p *Phase) GetID() string {
	return p.ID
}
