package models

import (
	"slices"
	"time"
)

type PlayerID string

type GameStatus string

const (
	GameStatusPending    GameStatus = "pending"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusAborted    GameStatus = "aborted"
	GameStatusCompleted  GameStatus = "completed"
)

// IsTerminal reports whether no further transition is possible.
func (s GameStatus) IsTerminal() bool {
	return s == GameStatusAborted || s == GameStatusCompleted
}

type GameMode string

const GameModeStandard GameMode = "standard"

type RoundStatus string

const (
	RoundStatusOpen   RoundStatus = "open"
	RoundStatusClosed RoundStatus = "closed"
)

type CloseReason string

const (
	CloseAllGuessed CloseReason = "all_guessed"
	CloseTimeout    CloseReason = "timeout"
	CloseAborted    CloseReason = "aborted"
	ClosePlayerLeft CloseReason = "player_left"
)

// Party is a persistent group of players that plays games together.
type Party struct {
	ID           string     `json:"id"`
	Admin        PlayerID   `json:"admin"`
	Players      []PlayerID `json:"players"`
	Code         string     `json:"code"`
	ActiveGameID string     `json:"active_game_id,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (p *Party) HasPlayer(id PlayerID) bool {
	return slices.Contains(p.Players, id)
}

func (p *Party) Clone() *Party {
	if p == nil {
		return nil
	}
	c := *p
	c.Players = slices.Clone(p.Players)
	return &c
}

// Room is the broadcast room for party events.
func (p *Party) Room() string {
	return PartyRoom(p.ID)
}

// Game is one play-through of N rounds by a party or a solo player.
type Game struct {
	ID           string         `json:"id"`
	PartyID      string         `json:"party_id,omitempty"`
	Players      []PlayerID     `json:"players"`
	Status       GameStatus     `json:"status"`
	Mode         GameMode       `json:"mode"`
	Map          string         `json:"map"`
	RoundsNumber int            `json:"rounds_number"`
	Modifiers    map[string]any `json:"modifiers,omitempty"`
	Winner       PlayerID       `json:"winner,omitempty"`
	// Time is the elapsed play time in seconds, set on completion.
	Time        int64      `json:"time"`
	AbortReason string     `json:"abort_reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Version     int64      `json:"version"`
}

func (g *Game) IsSolo() bool {
	return g.PartyID == ""
}

func (g *Game) HasPlayer(id PlayerID) bool {
	return slices.Contains(g.Players, id)
}

// Room is where the game's events are delivered: the party room, or the
// game's own room for solo play.
func (g *Game) Room() string {
	if g.PartyID != "" {
		return PartyRoom(g.PartyID)
	}
	return GameRoom(g.ID)
}

func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Players = slices.Clone(g.Players)
	if g.Modifiers != nil {
		c.Modifiers = make(map[string]any, len(g.Modifiers))
		for k, v := range g.Modifiers {
			c.Modifiers[k] = v
		}
	}
	if g.EndedAt != nil {
		t := *g.EndedAt
		c.EndedAt = &t
	}
	return &c
}

type Round struct {
	ID          string      `json:"id"`
	GameID      string      `json:"game_id"`
	PartyID     string      `json:"party_id,omitempty"`
	Number      int         `json:"number"`
	Players     []PlayerID  `json:"players"`
	WallpaperID string      `json:"wallpaper_id"`
	Guesses     int         `json:"guesses"`
	Status      RoundStatus `json:"status"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	// Deadline is zero when the round waits for every player.
	Deadline time.Time  `json:"deadline,omitzero"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Version  int64      `json:"version"`
}

func (r *Round) IsEligible(id PlayerID) bool {
	return slices.Contains(r.Players, id)
}

func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = slices.Clone(r.Players)
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

type Guess struct {
	GameID      string    `json:"game_id"`
	RoundID     string    `json:"round_id"`
	PlayerID    PlayerID  `json:"player_id"`
	CountryCode string    `json:"country_code"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	// DistanceKm is -1 when either side lacks coordinates.
	DistanceKm float64 `json:"distance_km"`
	Score      int     `json:"score"`
}

type Place struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type Wallpaper struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Image     string   `json:"image"`
	Copyright string   `json:"copyright"`
	Country   Place    `json:"country"`
	State     *Place   `json:"state,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Tags      []string `json:"tags"`
}

// MapInfo is a selectable map with the number of wallpapers it covers.
type MapInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func PartyRoom(partyID string) string {
	return "party:" + partyID
}

func GameRoom(gameID string) string {
	return "game:" + gameID
}
