package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/geoguess/models"
)

// Store persists parties, games, rounds and guesses.
//
// Create* sets Version to 1. Update* writes only when the stored Version equals
// the argument's Version, then bumps the argument's Version; otherwise it
// returns ErrVersionConflict (or ErrRecordNotFound if the row is gone).
type Store interface {
	CreateParty(ctx context.Context, p *models.Party) error
	GetParty(ctx context.Context, id string) (*models.Party, error)
	GetPartyByCode(ctx context.Context, code string) (*models.Party, error)
	UpdateParty(ctx context.Context, p *models.Party) error
	DeleteParty(ctx context.Context, id string, version int64) error

	CreateGame(ctx context.Context, g *models.Game) error
	GetGame(ctx context.Context, id string) (*models.Game, error)
	UpdateGame(ctx context.Context, g *models.Game) error
	ListGamesByStatus(ctx context.Context, status models.GameStatus) ([]*models.Game, error)

	CreateRound(ctx context.Context, r *models.Round) error
	GetRound(ctx context.Context, id string) (*models.Round, error)
	UpdateRound(ctx context.Context, r *models.Round) error
	// ListRounds returns the game's rounds ordered by Number.
	ListRounds(ctx context.Context, gameID string) ([]*models.Round, error)

	// RecordGuess inserts g and increments round.Guesses as one unit, under
	// the same version rule as UpdateRound. A second guess by the same player
	// in the same round returns ErrDuplicate.
	RecordGuess(ctx context.Context, g *models.Guess, round *models.Round) error
	ListGuesses(ctx context.Context, roundID string) ([]*models.Guess, error)
	ListGameGuesses(ctx context.Context, gameID string) ([]*models.Guess, error)

	Close() error
}

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate record")
)
