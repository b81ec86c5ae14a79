package state

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wfunc/geoguess/models"
)

// MockState is a test double for the State interface.
type MockState struct {
	ID string
}

func (m *MockState) GetID() string {
	return m.ID
}

func TestStateMachine_InitialState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	sm := NewBaseStateMachine(initialState)

	if sm.GetCurrentState() != initialState {
		t.Error("GetCurrentState should return the initial state")
	}
	if sm.Current() != "initial" {
		t.Errorf("Expected current id initial, got %s", sm.Current())
	}
}

func TestStateMachine_Transition(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	nextState := &MockState{ID: "next"}

	sm := NewBaseStateMachine(initialState)
	if err := sm.AddTransition(initialState, nextState, nil); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	if err := sm.Transition("initial", "next"); err != nil {
		t.Fatalf("Transition should not return an error, but got: %v", err)
	}
	if sm.GetCurrentState() != nextState {
		t.Error("GetCurrentState should return the new state")
	}
	if err := sm.Transition("initial", "next"); err != ErrTransitionNotAllowed {
		t.Errorf("Expected a stale from state to be rejected, got %v", err)
	}
}

func TestStateMachine_UndeclaredEdgeRejected(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	stateC := &MockState{ID: "C"}

	sm := NewBaseStateMachine(stateA)
	if err := sm.AddTransition(stateB, stateC, nil); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := sm.Transition("A", "B"); err != ErrTransitionNotAllowed {
		t.Errorf("Expected ErrTransitionNotAllowed for an undeclared edge, got: %v", err)
	}
	if err := sm.Transition("A", "missing"); err != ErrTransitionNotAllowed {
		t.Errorf("Expected ErrTransitionNotAllowed for an unknown state, got: %v", err)
	}
	if sm.Current() != "A" {
		t.Errorf("Expected current state to remain A, got %s", sm.Current())
	}
}

func TestStateMachine_AddAndUseTransition(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	stateC := &MockState{ID: "C"}

	sm := NewBaseStateMachine(stateA)

	if err := sm.AddTransition(stateA, stateB, func() bool { return true }); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := sm.AddTransition(stateB, stateC, func() bool { return false }); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := sm.AddTransition(stateA, stateA, nil); err == nil {
		t.Error("Expected self transitions to be refused")
	}

	if err := sm.Transition("A", "B"); err != nil {
		t.Errorf("Expected transition from A to B to be allowed, but got error: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to be B, but got %s", sm.GetCurrentState().GetID())
	}

	if err := sm.Transition("B", "C"); err != ErrTransitionNotAllowed {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to remain B after a blocked transition, but got %s", sm.GetCurrentState().GetID())
	}
}

func TestGameMachine_Edges(t *testing.T) {
	allowed := map[[2]models.GameStatus]bool{
		{models.GameStatusPending, models.GameStatusInProgress}:    true,
		{models.GameStatusInProgress, models.GameStatusCompleted}:  true,
		{models.GameStatusInProgress, models.GameStatusAborted}:    true,
		{models.GameStatusPending, models.GameStatusCompleted}:     false,
		{models.GameStatusCompleted, models.GameStatusInProgress}:  false,
		{models.GameStatusAborted, models.GameStatusInProgress}:    false,
		{models.GameStatusCompleted, models.GameStatusAborted}:     false,
		{models.GameStatusInProgress, models.GameStatusPending}:    false,
		{models.GameStatusAborted, models.GameStatusCompleted}:     false,
		{models.GameStatusPending, models.GameStatusAborted}:       false,
		{models.GameStatusCompleted, models.GameStatusCompleted}:   false,
		{models.GameStatusInProgress, models.GameStatusInProgress}: false,
	}
	for edge, want := range allowed {
		err := AdvanceGame(edge[0], edge[1])
		if want && err != nil {
			t.Errorf("%s -> %s should be allowed, got %v", edge[0], edge[1], err)
		}
		if !want && err != ErrTransitionNotAllowed {
			t.Errorf("%s -> %s should be rejected, got %v", edge[0], edge[1], err)
		}
	}
}

func TestRoundMachine_SingleCloser(t *testing.T) {
	sm := NewRoundMachine(models.RoundStatusOpen)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.Transition(string(models.RoundStatusOpen), string(models.RoundStatusClosed)) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("Expected exactly one closer, got %d", wins.Load())
	}
	if sm.Current() != string(models.RoundStatusClosed) {
		t.Errorf("Expected round to be closed, got %s", sm.Current())
	}
}

func TestRoundMachine_ResumeClosed(t *testing.T) {
	sm := NewRoundMachine(models.RoundStatusClosed)
	if err := sm.Transition(string(models.RoundStatusOpen), string(models.RoundStatusClosed)); err != ErrTransitionNotAllowed {
		t.Errorf("A closed round cannot be closed again, got %v", err)
	}
}
