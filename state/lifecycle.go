package state

import (
	"github.com/wfunc/geoguess/models"
)

// NewGameMachine builds pending -> in_progress -> {completed, aborted},
// positioned at current.
func NewGameMachine(current models.GameStatus) *BaseStateMachine {
	phases := map[models.GameStatus]*Phase{}
	for _, s := range []models.GameStatus{
		models.GameStatusPending,
		models.GameStatusInProgress,
		models.GameStatusCompleted,
		models.GameStatusAborted,
	} {
		phases[s] = &Phase{ID: string(s)}
	}

	initial, ok := phases[current]
	if !ok {
		initial = phases[models.GameStatusPending]
	}
	sm := NewBaseStateMachine(initial)
	_ = sm.AddTransition(phases[models.GameStatusPending], phases[models.GameStatusInProgress], nil)
	_ = sm.AddTransition(phases[models.GameStatusInProgress], phases[models.GameStatusCompleted], nil)
	_ = sm.AddTransition(phases[models.GameStatusInProgress], phases[models.GameStatusAborted], nil)
	return sm
}

// NewRoundMachine builds open -> closed, positioned at current.
func NewRoundMachine(current models.RoundStatus) *BaseStateMachine {
	open := &Phase{ID: string(models.RoundStatusOpen)}
	closed := &Phase{ID: string(models.RoundStatusClosed)}

	initial := open
	if current == models.RoundStatusClosed {
		initial = closed
	}
	sm := NewBaseStateMachine(initial)
	_ = sm.AddTransition(open, closed, nil)
	return sm
}

// AdvanceGame applies from -> to on a fresh machine, for callers that only hold a status value.
func AdvanceGame(from, to models.GameStatus) error {
	return NewGameMachine(from).Transition(string(from), string(to))
}
