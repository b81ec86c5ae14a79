package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// PartyRecord is the parties table row.
type PartyRecord struct {
	ID           string         `gorm:"primaryKey;type:uuid"`
	Admin        string         `gorm:"not null"`
	Players      datatypes.JSON `gorm:"type:jsonb;not null"`
	Code         string         `gorm:"uniqueIndex;not null"`
	ActiveGameID string         `gorm:"not null;default:''"`
	Version      int64          `gorm:"not null;default:1"`
	CreatedAt    time.Time
}

func (PartyRecord) TableName() string { return "parties" }

type GameRecord struct {
	ID           string         `gorm:"primaryKey;type:uuid"`
	PartyID      string         `gorm:"index;not null;default:''"`
	Players      datatypes.JSON `gorm:"type:jsonb;not null"`
	Status       string         `gorm:"index;not null"`
	Mode         string         `gorm:"not null"`
	Map          string         `gorm:"not null"`
	RoundsNumber int            `gorm:"not null"`
	Modifiers    datatypes.JSON `gorm:"type:jsonb"`
	Winner       string         `gorm:"not null;default:''"`
	Time         int64          `gorm:"not null;default:0"`
	AbortReason  string         `gorm:"not null;default:''"`
	StartedAt    time.Time
	EndedAt      *time.Time
	Version      int64 `gorm:"not null;default:1"`
}

func (GameRecord) TableName() string { return "games" }

type RoundRecord struct {
	ID          string         `gorm:"primaryKey;type:uuid"`
	GameID      string         `gorm:"type:uuid;not null;uniqueIndex:idx_rounds_game_number;uniqueIndex:idx_rounds_game_wallpaper"`
	PartyID     string         `gorm:"not null;default:''"`
	Number      int            `gorm:"not null;uniqueIndex:idx_rounds_game_number"`
	Players     datatypes.JSON `gorm:"type:jsonb;not null"`
	WallpaperID string         `gorm:"not null;uniqueIndex:idx_rounds_game_wallpaper"`
	Guesses     int            `gorm:"not null;default:0"`
	Status      string         `gorm:"not null"`
	CloseReason string         `gorm:"not null;default:''"`
	OpenedAt    time.Time
	Deadline    *time.Time
	ClosedAt    *time.Time
	Version     int64 `gorm:"not null;default:1"`
}

func (RoundRecord) TableName() string { return "rounds" }

type GuessRecord struct {
	ID          uint     `gorm:"primaryKey"`
	GameID      string   `gorm:"type:uuid;index;not null"`
	RoundID     string   `gorm:"type:uuid;not null;uniqueIndex:idx_guesses_round_player"`
	PlayerID    string   `gorm:"not null;uniqueIndex:idx_guesses_round_player"`
	CountryCode string   `gorm:"not null"`
	Lat         *float64 `gorm:""`
	Lng         *float64 `gorm:""`
	DistanceKm  float64  `gorm:"not null"`
	Score       int      `gorm:"not null;default:0"`
	SubmittedAt time.Time
}

func (GuessRecord) TableName() string { return "guesses" }

func marshalPlayers(ids []PlayerID) datatypes.JSON {
	if ids == nil {
		ids = []PlayerID{}
	}
	data, _ := json.Marshal(ids)
	return datatypes.JSON(data)
}

func unmarshalPlayers(data datatypes.JSON) ([]PlayerID, error) {
	var ids []PlayerID
	if len(data) == 0 {
		return ids, nil
	}
	err := json.Unmarshal(data, &ids)
	return ids, err
}

func NewPartyRecord(p *Party) *PartyRecord {
	return &PartyRecord{
		ID:           p.ID,
		Admin:        string(p.Admin),
		Players:      marshalPlayers(p.Players),
		Code:         p.Code,
		ActiveGameID: p.ActiveGameID,
		Version:      p.Version,
		CreatedAt:    p.CreatedAt,
	}
}

func (r *PartyRecord) ToParty() (*Party, error) {
	players, err := unmarshalPlayers(r.Players)
	if err != nil {
		return nil, err
	}
	return &Party{
		ID:           r.ID,
		Admin:        PlayerID(r.Admin),
		Players:      players,
		Code:         r.Code,
		ActiveGameID: r.ActiveGameID,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
	}, nil
}

func NewGameRecord(g *Game) (*GameRecord, error) {
	var modifiers datatypes.JSON
	if g.Modifiers != nil {
		data, err := json.Marshal(g.Modifiers)
		if err != nil {
			return nil, err
		}
		modifiers = datatypes.JSON(data)
	}
	return &GameRecord{
		ID:           g.ID,
		PartyID:      g.PartyID,
		Players:      marshalPlayers(g.Players),
		Status:       string(g.Status),
		Mode:         string(g.Mode),
		Map:          g.Map,
		RoundsNumber: g.RoundsNumber,
		Modifiers:    modifiers,
		Winner:       string(g.Winner),
		Time:         g.Time,
		AbortReason:  g.AbortReason,
		StartedAt:    g.StartedAt,
		EndedAt:      g.EndedAt,
		Version:      g.Version,
	}, nil
}

func (r *GameRecord) ToGame() (*Game, error) {
	players, err := unmarshalPlayers(r.Players)
	if err != nil {
		return nil, err
	}
	var modifiers map[string]any
	if len(r.Modifiers) > 0 {
		if err := json.Unmarshal(r.Modifiers, &modifiers); err != nil {
			return nil, err
		}
	}
	return &Game{
		ID:           r.ID,
		PartyID:      r.PartyID,
		Players:      players,
		Status:       GameStatus(r.Status),
		Mode:         GameMode(r.Mode),
		Map:          r.Map,
		RoundsNumber: r.RoundsNumber,
		Modifiers:    modifiers,
		Winner:       PlayerID(r.Winner),
		Time:         r.Time,
		AbortReason:  r.AbortReason,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Version:      r.Version,
	}, nil
}

func NewRoundRecord(r *Round) *RoundRecord {
	rec := &RoundRecord{
		ID:          r.ID,
		GameID:      r.GameID,
		PartyID:     r.PartyID,
		Number:      r.Number,
		Players:     marshalPlayers(r.Players),
		WallpaperID: r.WallpaperID,
		Guesses:     r.Guesses,
		Status:      string(r.Status),
		CloseReason: string(r.CloseReason),
		OpenedAt:    r.OpenedAt,
		ClosedAt:    r.ClosedAt,
		Version:     r.Version,
	}
	if !r.Deadline.IsZero() {
		d := r.Deadline
		rec.Deadline = &d
	}
	return rec
}

func (rec *RoundRecord) ToRound() (*Round, error) {
	players, err := unmarshalPlayers(rec.Players)
	if err != nil {
		return nil, err
	}
	r := &Round{
		ID:          rec.ID,
		GameID:      rec.GameID,
		PartyID:     rec.PartyID,
		Number:      rec.Number,
		Players:     players,
		WallpaperID: rec.WallpaperID,
		Guesses:     rec.Guesses,
		Status:      RoundStatus(rec.Status),
		CloseReason: CloseReason(rec.CloseReason),
		OpenedAt:    rec.OpenedAt,
		ClosedAt:    rec.ClosedAt,
		Version:     rec.Version,
	}
	if rec.Deadline != nil {
		r.Deadline = *rec.Deadline
	}
	return r, nil
}

func NewGuessRecord(g *Guess) *GuessRecord {
	return &GuessRecord{
		GameID:      g.GameID,
		RoundID:     g.RoundID,
		PlayerID:    string(g.PlayerID),
		CountryCode: g.CountryCode,
		Lat:         g.Lat,
		Lng:         g.Lng,
		DistanceKm:  g.DistanceKm,
		Score:       g.Score,
		SubmittedAt: g.SubmittedAt,
	}
}

func (rec *GuessRecord) ToGuess() *Guess {
	return &Guess{
		GameID:      rec.GameID,
		RoundID:     rec.RoundID,
		PlayerID:    PlayerID(rec.PlayerID),
		CountryCode: rec.CountryCode,
		Lat:         rec.Lat,
		Lng:         rec.Lng,
		SubmittedAt: rec.SubmittedAt,
		DistanceKm:  rec.DistanceKm,
		Score:       rec.Score,
	}
}
