package services

import (
	"time"

	"github.com/wfunc/geoguess/models"
)

// wallpaperHint is all a player sees of a wallpaper while the round is open.
type wallpaperHint struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

type roundOpenedEvent struct {
	GameID       string            `json:"game_id"`
	RoundID      string            `json:"round_id"`
	Number       int               `json:"number"`
	RoundsNumber int               `json:"rounds_number"`
	Players      []models.PlayerID `json:"players"`
	Wallpaper    wallpaperHint     `json:"wallpaper"`
	Deadline     time.Time         `json:"deadline,omitzero"`
}

// roundGuessEvent announces that a guess landed, never its score.
type roundGuessEvent struct {
	GameID  string          `json:"game_id"`
	RoundID string          `json:"round_id"`
	Player  models.PlayerID `json:"player"`
	Guesses int             `json:"guesses"`
	Players int             `json:"players"`
}

type RoundResult struct {
	Player      models.PlayerID `json:"player"`
	Guessed     bool            `json:"guessed"`
	CountryCode string          `json:"country_code,omitempty"`
	DistanceKm  float64         `json:"distance_km"`
	Score       int             `json:"score"`
}

type roundClosedEvent struct {
	GameID    string                  `json:"game_id"`
	RoundID   string                  `json:"round_id"`
	Number    int                     `json:"number"`
	Reason    models.CloseReason      `json:"reason"`
	Wallpaper *models.Wallpaper       `json:"wallpaper,omitempty"`
	Results   []RoundResult           `json:"results"`
	Totals    map[models.PlayerID]int `json:"totals"`
}

type gameAbortedEvent struct {
	GameID  string `json:"game_id"`
	Reason  string `json:"reason"`
	RoundID string `json:"round_id,omitempty"`
}

type gameCompletedEvent struct {
	GameID string                  `json:"game_id"`
	Winner models.PlayerID         `json:"winner"`
	Totals map[models.PlayerID]int `json:"totals"`
	Time   int64                   `json:"time"`
}

// roundResults lists every eligible player of round in roster order.
// Players without a guess score 0.
func roundResults(round *models.Round, guesses []*models.Guess) []RoundResult {
	byPlayer := make(map[models.PlayerID]*models.Guess)
	for _, g := range guesses {
		if g.RoundID == round.ID {
			byPlayer[g.PlayerID] = g
		}
	}
	results := make([]RoundResult, 0, len(round.Players))
	for _, p := range round.Players {
		r := RoundResult{Player: p, DistanceKm: -1}
		if g, ok := byPlayer[p]; ok {
			r.Guessed = true
			r.CountryCode = g.CountryCode
			r.DistanceKm = g.DistanceKm
			r.Score = g.Score
		}
		results = append(results, r)
	}
	return results
}
