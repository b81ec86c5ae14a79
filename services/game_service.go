package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/geoguess/broadcast"
	"github.com/wfunc/geoguess/catalog"
	"github.com/wfunc/geoguess/config"
	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/network"
	"github.com/wfunc/geoguess/persistence"
	"github.com/wfunc/geoguess/state"
	"github.com/wfunc/geoguess/timer"
)

const (
	defaultRetryDelay = 2 * time.Second
	callbackTimeout   = 10 * time.Second

	ReasonPartyEmpty = "party_empty"
	ReasonNoPlayers  = "no_players"
	ReasonAborted    = "aborted"
)

// errRoundClosed marks a closure attempt that lost the race. Never returned to callers.
var errRoundClosed = errors.New("round already closed")

// StartRequest starts a party game when PartyID is set, a solo game otherwise.
type StartRequest struct {
	PartyID string
	Player  models.PlayerID
	Map     string
	Mode    models.GameMode
	// RoundsNumber nil means the configured default.
	RoundsNumber *int
	Modifiers    map[string]any
}

type GuessInput struct {
	CountryCode string   `json:"country_code"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

// GameView is a game with its rounds and the running score totals.
type GameView struct {
	Game   *models.Game            `json:"game"`
	Rounds []*models.Round         `json:"rounds"`
	Totals map[models.PlayerID]int `json:"totals"`
}

type GameOption func(*GameService)

func WithScorer(sc Scorer) GameOption {
	return func(s *GameService) { s.scorer = sc }
}

func WithMetrics(m Metrics) GameOption {
	return func(s *GameService) { s.metrics = m }
}

// WithRetryDelay sets how long to wait before retrying a deadline or an
// advancement that failed on store or catalog errors.
func WithRetryDelay(d time.Duration) GameOption {
	return func(s *GameService) { s.retryDelay = d }
}

// GameService is the single writer of game and round state. Every mutation
// of one game runs under that game's lock; games never share a lock.
type GameService struct {
	store       persistence.Store
	catalog     catalog.Catalog
	broadcaster broadcast.Broadcaster
	locks       *KeyedMutex
	timers      *timer.TimerManager
	scorer      Scorer
	metrics     Metrics

	roundTimeout  time.Duration
	defaultRounds int
	retryDelay    time.Duration
	now           func() time.Time

	mu        sync.Mutex
	machines  map[string]*state.BaseStateMachine
	deadlines map[string]int64
}

func NewGameService(store persistence.Store, cat catalog.Catalog, b broadcast.Broadcaster, locks *KeyedMutex, cfg config.GameConfig, opts ...GameOption) *GameService {
	s := &GameService{
		store:         store,
		catalog:       cat,
		broadcaster:   b,
		locks:         locks,
		timers:        timer.NewTimerManager(),
		scorer:        DistanceScorer{},
		metrics:       noopMetrics{},
		roundTimeout:  cfg.RoundTimeout,
		defaultRounds: cfg.DefaultRounds,
		retryDelay:    defaultRetryDelay,
		now:           time.Now,
		machines:      make(map[string]*state.BaseStateMachine),
		deadlines:     make(map[string]int64),
	}
	if s.defaultRounds < 1 {
		s.defaultRounds = 3
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops every pending round deadline.
func (s *GameService) Close() {
	s.timers.Stop()
}

func gameKey(id string) string { return "game:" + id }

// StartGame creates a game in progress together with its first round.
func (s *GameService) StartGame(ctx context.Context, req StartRequest) (*models.Game, *models.Round, error) {
	const op = "game.start"

	mode, rules, ok := RulesFor(req.Mode)
	if !ok {
		return nil, nil, errs.E(errs.Validation, op, "unknown game mode %q", req.Mode)
	}
	rounds := s.defaultRounds
	if req.RoundsNumber != nil {
		rounds = *req.RoundsNumber
		if rounds < 1 {
			return nil, nil, errs.E(errs.Validation, op, "rounds_number must be at least 1")
		}
	}
	if rules.MaxRounds > 0 && rounds > rules.MaxRounds {
		return nil, nil, errs.E(errs.Validation, op, "rounds_number must be at most %d", rules.MaxRounds)
	}
	mapName := strings.TrimSpace(req.Map)
	if mapName == "" {
		mapName = catalog.WorldMap
	}

	available, err := s.catalog.Count(ctx, mapName)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Unavailable, op, err)
	}
	if available < rounds {
		return nil, nil, errs.E(errs.InsufficientContent, op,
			"map %q has %d wallpapers, %d rounds requested", mapName, available, rounds)
	}

	var party *models.Party
	players := []models.PlayerID{req.Player}
	if req.PartyID != "" {
		unlock := s.locks.Lock(partyKey(req.PartyID))
		defer unlock()

		party, err = s.store.GetParty(ctx, req.PartyID)
		if err != nil {
			return nil, nil, storeErr(op, "party", err)
		}
		if party.Admin != req.Player {
			return nil, nil, errs.E(errs.Forbidden, op, "only the party admin can start a game")
		}
		if party.ActiveGameID != "" {
			active, err := s.store.GetGame(ctx, party.ActiveGameID)
			if err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
				return nil, nil, storeErr(op, "game", err)
			}
			if active != nil && active.Status == models.GameStatusInProgress {
				return nil, nil, errs.E(errs.InvalidState, op, "party already has a game in progress")
			}
		}
		players = append([]models.PlayerID(nil), party.Players...)
	}

	first, err := s.catalog.Select(ctx, mapName, nil)
	if err != nil {
		if errors.Is(err, catalog.ErrNoWallpaper) {
			return nil, nil, errs.E(errs.InsufficientContent, op, "map %q has no wallpapers", mapName)
		}
		return nil, nil, errs.Wrap(errs.Unavailable, op, err)
	}

	game := &models.Game{
		ID:           uuid.NewString(),
		Players:      players,
		Status:       models.GameStatusPending,
		Mode:         mode,
		Map:          mapName,
		RoundsNumber: rounds,
		Modifiers:    req.Modifiers,
		StartedAt:    s.now().UTC(),
	}
	if party != nil {
		game.PartyID = party.ID
	}
	if err := state.AdvanceGame(game.Status, models.GameStatusInProgress); err != nil {
		return nil, nil, errs.Wrap(errs.InvalidState, op, err)
	}
	game.Status = models.GameStatusInProgress

	unlockGame := s.locks.Lock(gameKey(game.ID))
	defer unlockGame()

	if err := s.store.CreateGame(ctx, game); err != nil {
		return nil, nil, storeErr(op, "game", err)
	}
	if party != nil {
		party.ActiveGameID = game.ID
		if err := s.store.UpdateParty(ctx, party); err != nil {
			s.discard(ctx, game, "start_failed")
			return nil, nil, storeErr(op, "party", err)
		}
	}

	round, err := s.openRoundLocked(ctx, game, 1, players, first)
	if err != nil {
		s.discard(ctx, game, "start_failed")
		return nil, nil, err
	}

	s.metrics.GameStarted()
	logger.Log.Infow("game started", "game", game.ID, "party", game.PartyID, "players", len(players), "map", mapName, "rounds", rounds)
	if party != nil {
		s.emit(party.Room(), network.EventPartyUpdated, party)
	}
	s.emitRoundOpened(game, round, first)
	return game, round, nil
}

// discard marks a half-created game aborted so it never blocks its party.
func (s *GameService) discard(ctx context.Context, game *models.Game, reason string) {
	game.Status = models.GameStatusAborted
	game.AbortReason = reason
	ended := s.now().UTC()
	game.EndedAt = &ended
	if err := s.store.UpdateGame(ctx, game); err != nil {
		logger.Log.Errorw("failed to discard game", "game", game.ID, "error", err)
	}
}

// SubmitGuess records player's guess and closes the round once every eligible
// player has guessed.
func (s *GameService) SubmitGuess(ctx context.Context, gameID, roundID string, player models.PlayerID, in GuessInput) (*models.Guess, error) {
	const op = "game.guess"
	started := s.now()

	if err := validateGuess(in); err != nil {
		return nil, errs.Wrap(errs.Validation, op, err)
	}

	unlock := s.locks.Lock(gameKey(gameID))
	defer unlock()

	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(op, "game", err)
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, storeErr(op, "round", err)
	}
	if round.GameID != game.ID {
		return nil, errs.E(errs.NotFound, op, "round not found")
	}
	if game.Status != models.GameStatusInProgress || round.Status != models.RoundStatusOpen {
		return nil, errs.E(errs.InvalidState, op, "round is closed")
	}
	if !round.Deadline.IsZero() && started.After(round.Deadline) {
		return nil, errs.E(errs.InvalidState, op, "round deadline has passed")
	}
	if !round.IsEligible(player) {
		return nil, errs.E(errs.InvalidState, op, "player is not playing this round")
	}
	existing, err := s.store.ListGuesses(ctx, round.ID)
	if err != nil {
		return nil, storeErr(op, "guess", err)
	}
	for _, g := range existing {
		if g.PlayerID == player {
			return nil, errs.E(errs.Conflict, op, "player already guessed this round")
		}
	}

	wallpaper, err := s.catalog.Get(ctx, round.WallpaperID)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, op, err)
	}

	guess := &models.Guess{
		GameID:      game.ID,
		RoundID:     round.ID,
		PlayerID:    player,
		CountryCode: strings.ToUpper(strings.TrimSpace(in.CountryCode)),
		Lat:         in.Lat,
		Lng:         in.Lng,
		SubmittedAt: started.UTC(),
	}
	guess.Score, guess.DistanceKm = s.scorer.Score(guess, wallpaper)

	if err := s.store.RecordGuess(ctx, guess, round); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return nil, errs.E(errs.Conflict, op, "player already guessed this round")
		}
		return nil, storeErr(op, "round", err)
	}
	s.metrics.GuessAccepted(s.now().Sub(started))
	logger.Log.Debugw("guess recorded", "game", game.ID, "round", round.Number, "player", player, "score", guess.Score)

	s.emit(game.Room(), network.EventRoundGuess, roundGuessEvent{
		GameID:  game.ID,
		RoundID: round.ID,
		Player:  player,
		Guesses: round.Guesses,
		Players: len(round.Players),
	})

	if round.Guesses >= len(round.Players) {
		s.closeAndAdvance(ctx, game, round, models.CloseAllGuessed)
	}
	return guess, nil
}

func validateGuess(in GuessInput) error {
	hasCoords := in.Lat != nil && in.Lng != nil
	if (in.Lat == nil) != (in.Lng == nil) {
		return errors.New("lat and lng must be given together")
	}
	if hasCoords && (math.Abs(*in.Lat) > 90 || math.Abs(*in.Lng) > 180) {
		return errors.New("coordinates out of range")
	}
	if strings.TrimSpace(in.CountryCode) == "" && !hasCoords {
		return errors.New("country_code or coordinates required")
	}
	return nil
}

// AbortGame ends a game without scoring its open round. player is checked
// against the party admin, or the solo player; an empty player is a system
// abort. Aborting a finished game is a no-op.
func (s *GameService) AbortGame(ctx context.Context, gameID string, player models.PlayerID, reason string) (*models.Game, error) {
	const op = "game.abort"
	if reason == "" {
		reason = ReasonAborted
	}

	if player != "" {
		game, err := s.store.GetGame(ctx, gameID)
		if err != nil {
			return nil, storeErr(op, "game", err)
		}
		if err := s.authorizeAbort(ctx, op, game, player); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(gameKey(gameID))
	defer unlock()

	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(op, "game", err)
	}
	if game.Status.IsTerminal() {
		return game, nil
	}
	if err := s.abortLocked(ctx, game, reason); err != nil {
		return nil, err
	}
	return game, nil
}

func (s *GameService) authorizeAbort(ctx context.Context, op string, game *models.Game, player models.PlayerID) error {
	if game.IsSolo() {
		if !game.HasPlayer(player) {
			return errs.E(errs.Forbidden, op, "only the player can abort a solo game")
		}
		return nil
	}
	party, err := s.store.GetParty(ctx, game.PartyID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		if !game.HasPlayer(player) {
			return errs.E(errs.Forbidden, op, "player is not in this game")
		}
		return nil
	}
	if err != nil {
		return storeErr(op, "party", err)
	}
	if party.Admin != player {
		return errs.E(errs.Forbidden, op, "only the party admin can abort the game")
	}
	return nil
}

// abortLocked must be called with the game lock held.
func (s *GameService) abortLocked(ctx context.Context, game *models.Game, reason string) error {
	const op = "game.abort"
	rounds, err := s.store.ListRounds(ctx, game.ID)
	if err != nil {
		return storeErr(op, "round", err)
	}
	var closedRound string
	for _, r := range rounds {
		if r.Status != models.RoundStatusOpen {
			continue
		}
		err := s.closeRoundLocked(ctx, game, r, models.CloseAborted, nil)
		if errors.Is(err, errRoundClosed) {
			continue
		}
		if err != nil {
			return err
		}
		closedRound = r.ID
	}

	if err := state.AdvanceGame(game.Status, models.GameStatusAborted); err != nil {
		return errs.Wrap(errs.InvalidState, op, err)
	}
	game.Status = models.GameStatusAborted
	game.AbortReason = reason
	ended := s.now().UTC()
	game.EndedAt = &ended
	if err := s.store.UpdateGame(ctx, game); err != nil {
		return storeErr(op, "game", err)
	}

	s.metrics.GameFinished(string(models.GameStatusAborted))
	logger.Log.Infow("game aborted", "game", game.ID, "reason", reason)
	s.emit(game.Room(), network.EventGameAborted, gameAbortedEvent{
		GameID:  game.ID,
		Reason:  reason,
		RoundID: closedRound,
	})
	return nil
}

// PlayerLeft drops a departed party member from the open round. The round
// closes if everyone still eligible has guessed.
func (s *GameService) PlayerLeft(ctx context.Context, gameID string, player models.PlayerID) {
	unlock := s.locks.Lock(gameKey(gameID))
	defer unlock()

	if err := s.playerLeftLocked(ctx, gameID, player); err != nil {
		logger.Log.Warnw("failed to apply player departure", "game", gameID, "player", player, "error", err)
	}
}

func (s *GameService) playerLeftLocked(ctx context.Context, gameID string, player models.PlayerID) error {
	const op = "game.player_left"
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return storeErr(op, "game", err)
	}
	if game.Status != models.GameStatusInProgress {
		return nil
	}
	round, err := s.openRound(ctx, game.ID)
	if err != nil || round == nil || !round.IsEligible(player) {
		return err
	}
	guesses, err := s.store.ListGuesses(ctx, round.ID)
	if err != nil {
		return storeErr(op, "guess", err)
	}
	for _, g := range guesses {
		if g.PlayerID == player {
			// The guess stands and the player stays counted.
			return nil
		}
	}

	remaining := round.Players[:0:0]
	for _, p := range round.Players {
		if p != player {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return s.abortLocked(ctx, game, ReasonNoPlayers)
	}
	round.Players = remaining
	if err := s.store.UpdateRound(ctx, round); err != nil {
		return storeErr(op, "round", err)
	}
	if round.Guesses >= len(round.Players) {
		s.closeAndAdvance(ctx, game, round, models.ClosePlayerLeft)
	}
	return nil
}

// PartyEmptied aborts the party's game once the last member has gone.
func (s *GameService) PartyEmptied(ctx context.Context, gameID string) {
	if _, err := s.AbortGame(ctx, gameID, "", ReasonPartyEmpty); err != nil {
		logger.Log.Warnw("failed to abort game of emptied party", "game", gameID, "error", err)
	}
}

// GetGame returns the game, its rounds in play order, and the score totals.
func (s *GameService) GetGame(ctx context.Context, gameID string) (*GameView, error) {
	const op = "game.get"
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(op, "game", err)
	}
	rounds, err := s.store.ListRounds(ctx, gameID)
	if err != nil {
		return nil, storeErr(op, "round", err)
	}
	guesses, err := s.store.ListGameGuesses(ctx, gameID)
	if err != nil {
		return nil, storeErr(op, "guess", err)
	}
	totals, _ := standings(game.Players, guesses)
	return &GameView{Game: game, Rounds: rounds, Totals: totals}, nil
}

// Recover re-arms the deadlines of every game left in progress, closing
// overdue rounds and opening rounds a failed advancement never created.
func (s *GameService) Recover(ctx context.Context) error {
	games, err := s.store.ListGamesByStatus(ctx, models.GameStatusInProgress)
	if err != nil {
		return storeErr("game.recover", "game", err)
	}
	for _, g := range games {
		s.resume(ctx, g.ID)
	}
	logger.Log.Infow("games recovered", "count", len(games))
	return nil
}

// resume brings a game in progress back to a consistent running state.
func (s *GameService) resume(ctx context.Context, gameID string) {
	unlock := s.locks.Lock(gameKey(gameID))
	defer unlock()

	if err := s.resumeLocked(ctx, gameID); err != nil {
		logger.Log.Warnw("failed to resume game, retrying", "game", gameID, "error", err)
		s.timers.AfterFunc(s.retryDelay, func() { s.resumeDetached(gameID) })
	}
}

func (s *GameService) resumeDetached(gameID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	s.resume(ctx, gameID)
}

func (s *GameService) resumeLocked(ctx context.Context, gameID string) error {
	const op = "game.resume"
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return storeErr(op, "game", err)
	}
	if game.Status != models.GameStatusInProgress {
		return nil
	}
	rounds, err := s.store.ListRounds(ctx, game.ID)
	if err != nil {
		return storeErr(op, "round", err)
	}
	for _, r := range rounds {
		if r.Status != models.RoundStatusOpen {
			continue
		}
		if !r.Deadline.IsZero() && !s.now().Before(r.Deadline) {
			err := s.closeRoundLocked(ctx, game, r, models.CloseTimeout, nil)
			if errors.Is(err, errRoundClosed) {
				return nil
			}
			return err
		}
		s.armDeadline(game.ID, r)
		return nil
	}
	return s.advanceLocked(ctx, game, rounds, nil)
}

// onRoundDeadline fires on the timer goroutine. A round already closed by the
// last guess is the expected loser of the race.
func (s *GameService) onRoundDeadline(gameID, roundID string) {
	s.closeDetached(gameID, roundID, models.CloseTimeout)
}

func (s *GameService) closeDetached(gameID, roundID string, reason models.CloseReason) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	unlock := s.locks.Lock(gameKey(gameID))
	defer unlock()

	s.mu.Lock()
	delete(s.deadlines, roundID)
	s.mu.Unlock()

	game, err := s.store.GetGame(ctx, gameID)
	if err == nil && game.Status != models.GameStatusInProgress {
		return
	}
	var round *models.Round
	if err == nil {
		round, err = s.store.GetRound(ctx, roundID)
	}
	if err != nil {
		logger.Log.Warnw("round lookup failed, retrying close", "game", gameID, "round", roundID, "error", err)
		s.retryClose(gameID, roundID, reason)
		return
	}

	err = s.closeRoundLocked(ctx, game, round, reason, nil)
	switch {
	case errors.Is(err, errRoundClosed):
		logger.Log.Debugw("close fired on closed round", "game", gameID, "round", roundID, "reason", reason)
	case err != nil:
		logger.Log.Warnw("round close failed, retrying", "game", gameID, "round", roundID, "reason", reason, "error", err)
		s.retryClose(gameID, roundID, reason)
	}
}

// retryClose replaces the round's pending deadline with a retry of reason.
func (s *GameService) retryClose(gameID, roundID string, reason models.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.deadlines[roundID]; ok {
		s.timers.Cancel(old)
	}
	s.deadlines[roundID] = s.timers.AfterFunc(s.retryDelay, func() { s.closeDetached(gameID, roundID, reason) })
}

// closeAndAdvance closes round from a caller whose own mutation already
// succeeded. A failure leaves the round open for a retry.
func (s *GameService) closeAndAdvance(ctx context.Context, game *models.Game, round *models.Round, reason models.CloseReason) {
	err := s.closeRoundLocked(ctx, game, round, reason, nil)
	if err != nil && !errors.Is(err, errRoundClosed) {
		logger.Log.Warnw("failed to close round, retrying", "game", game.ID, "round", round.ID, "reason", reason, "error", err)
		s.retryClose(game.ID, round.ID, reason)
	}
}

// closeRoundLocked moves round open -> closed and then advances the game.
// The round machine decides the single winner among racing closers; losers
// get errRoundClosed. The next wallpaper is picked before anything changes
// so a catalog failure leaves the round open. rounds may be nil.
func (s *GameService) closeRoundLocked(ctx context.Context, game *models.Game, round *models.Round, reason models.CloseReason, rounds []*models.Round) error {
	const op = "round.close"
	m := s.machine(round)
	if m.Current() != string(models.RoundStatusOpen) {
		return errRoundClosed
	}

	var (
		guesses []*models.Guess
		next    *models.Wallpaper
		err     error
	)
	if reason != models.CloseAborted {
		guesses, err = s.store.ListGameGuesses(ctx, game.ID)
		if err != nil {
			return storeErr(op, "guess", err)
		}
		if round.Number < game.RoundsNumber {
			if rounds == nil {
				if rounds, err = s.store.ListRounds(ctx, game.ID); err != nil {
					return storeErr(op, "round", err)
				}
			}
			next, err = s.selectNext(ctx, game, rounds)
			if err != nil {
				return err
			}
		}
	}

	if err := m.Transition(string(models.RoundStatusOpen), string(models.RoundStatusClosed)); err != nil {
		return errRoundClosed
	}
	closedAt := s.now().UTC()
	round.Status = models.RoundStatusClosed
	round.CloseReason = reason
	round.ClosedAt = &closedAt
	if err := s.store.UpdateRound(ctx, round); err != nil {
		s.reopenMachine(round.ID)
		return storeErr(op, "round", err)
	}
	s.forgetRound(round.ID)
	s.metrics.RoundClosed(string(reason))
	logger.Log.Infow("round closed", "game", game.ID, "round", round.Number, "reason", reason, "guesses", round.Guesses)

	if reason == models.CloseAborted {
		return nil
	}

	wallpaper, err := s.catalog.Get(ctx, round.WallpaperID)
	if err != nil {
		logger.Log.Warnw("wallpaper lookup failed for round reveal", "wallpaper", round.WallpaperID, "error", err)
		wallpaper = nil
	}
	totals, _ := standings(game.Players, guesses)
	s.emit(game.Room(), network.EventRoundClosed, roundClosedEvent{
		GameID:    game.ID,
		RoundID:   round.ID,
		Number:    round.Number,
		Reason:    reason,
		Wallpaper: wallpaper,
		Results:   roundResults(round, guesses),
		Totals:    totals,
	})

	if rounds == nil {
		rounds = []*models.Round{round}
	}
	if err := s.advanceLocked(ctx, game, rounds, next); err != nil {
		logger.Log.Warnw("failed to advance game, retrying", "game", game.ID, "error", err)
		s.timers.AfterFunc(s.retryDelay, func() { s.resumeDetached(game.ID) })
	}
	return nil
}

// selectNext picks a wallpaper the game has not shown yet. Nil means the
// catalog ran dry and the game ends early.
func (s *GameService) selectNext(ctx context.Context, game *models.Game, rounds []*models.Round) (*models.Wallpaper, error) {
	used := make([]string, 0, len(rounds))
	for _, r := range rounds {
		used = append(used, r.WallpaperID)
	}
	w, err := s.catalog.Select(ctx, game.Map, used)
	if errors.Is(err, catalog.ErrNoWallpaper) {
		logger.Log.Warnw("catalog exhausted, ending game early", "game", game.ID, "map", game.Map)
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "round.next", err)
	}
	return w, nil
}

// advanceLocked opens the next round, or completes the game when the last
// round is closed. next may be nil, in which case it is selected here.
func (s *GameService) advanceLocked(ctx context.Context, game *models.Game, rounds []*models.Round, next *models.Wallpaper) error {
	const op = "game.advance"
	played := 0
	for _, r := range rounds {
		if r.Number > played {
			played = r.Number
		}
	}

	if played < game.RoundsNumber {
		if next == nil {
			all, err := s.store.ListRounds(ctx, game.ID)
			if err != nil {
				return storeErr(op, "round", err)
			}
			if next, err = s.selectNext(ctx, game, all); err != nil {
				return err
			}
		}
		if next != nil {
			players, err := s.eligible(ctx, game)
			if err != nil {
				return err
			}
			if len(players) == 0 {
				return s.abortLocked(ctx, game, ReasonNoPlayers)
			}
			round, err := s.openRoundLocked(ctx, game, played+1, players, next)
			if err != nil {
				return err
			}
			s.emitRoundOpened(game, round, next)
			return nil
		}
	}
	return s.completeLocked(ctx, game)
}

// eligible is the game roster minus players who have since left the party.
func (s *GameService) eligible(ctx context.Context, game *models.Game) ([]models.PlayerID, error) {
	if game.IsSolo() {
		return append([]models.PlayerID(nil), game.Players...), nil
	}
	party, err := s.store.GetParty(ctx, game.PartyID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("game.advance", "party", err)
	}
	var players []models.PlayerID
	for _, p := range game.Players {
		if party.HasPlayer(p) {
			players = append(players, p)
		}
	}
	return players, nil
}

func (s *GameService) openRoundLocked(ctx context.Context, game *models.Game, number int, players []models.PlayerID, w *models.Wallpaper) (*models.Round, error) {
	now := s.now().UTC()
	round := &models.Round{
		ID:          uuid.NewString(),
		GameID:      game.ID,
		PartyID:     game.PartyID,
		Number:      number,
		Players:     players,
		WallpaperID: w.ID,
		Status:      models.RoundStatusOpen,
		OpenedAt:    now,
	}
	_, rules, _ := RulesFor(game.Mode)
	if timeout := rules.timeout(s.roundTimeout); timeout > 0 {
		round.Deadline = now.Add(timeout)
	}
	if err := s.store.CreateRound(ctx, round); err != nil {
		return nil, storeErr("round.open", "round", err)
	}
	s.machine(round)
	s.armDeadline(game.ID, round)
	logger.Log.Infow("round opened", "game", game.ID, "round", number, "wallpaper", w.ID, "players", len(players))
	return round, nil
}

func (s *GameService) completeLocked(ctx context.Context, game *models.Game) error {
	const op = "game.complete"
	guesses, err := s.store.ListGameGuesses(ctx, game.ID)
	if err != nil {
		return storeErr(op, "guess", err)
	}
	totals, winner := standings(game.Players, guesses)

	if err := state.AdvanceGame(game.Status, models.GameStatusCompleted); err != nil {
		return errs.Wrap(errs.InvalidState, op, err)
	}
	ended := s.now().UTC()
	game.Status = models.GameStatusCompleted
	game.Winner = winner
	game.EndedAt = &ended
	game.Time = int64(ended.Sub(game.StartedAt) / time.Second)
	if err := s.store.UpdateGame(ctx, game); err != nil {
		game.Status = models.GameStatusInProgress
		game.Winner = ""
		game.EndedAt = nil
		return storeErr(op, "game", err)
	}

	s.metrics.GameFinished(string(models.GameStatusCompleted))
	logger.Log.Infow("game completed", "game", game.ID, "winner", winner, "time", game.Time)
	s.emit(game.Room(), network.EventGameCompleted, gameCompletedEvent{
		GameID: game.ID,
		Winner: winner,
		Totals: totals,
		Time:   game.Time,
	})
	return nil
}

// standings sums scores per player. The winner has the highest total; among
// equal totals the player whose last scoring guess came first wins, then
// roster order.
func standings(roster []models.PlayerID, guesses []*models.Guess) (map[models.PlayerID]int, models.PlayerID) {
	totals := make(map[models.PlayerID]int, len(roster))
	lastScored := make(map[models.PlayerID]time.Time, len(roster))
	for _, p := range roster {
		totals[p] = 0
	}
	for _, g := range guesses {
		totals[g.PlayerID] += g.Score
		if g.Score > 0 && g.SubmittedAt.After(lastScored[g.PlayerID]) {
			lastScored[g.PlayerID] = g.SubmittedAt
		}
	}

	var winner models.PlayerID
	for i, p := range roster {
		if i == 0 {
			winner = p
			continue
		}
		switch {
		case totals[p] > totals[winner]:
			winner = p
		case totals[p] == totals[winner] && totals[p] > 0 && lastScored[p].Before(lastScored[winner]):
			winner = p
		}
	}
	return totals, winner
}

func (s *GameService) openRound(ctx context.Context, gameID string) (*models.Round, error) {
	rounds, err := s.store.ListRounds(ctx, gameID)
	if err != nil {
		return nil, storeErr("game.round", "round", err)
	}
	for _, r := range rounds {
		if r.Status == models.RoundStatusOpen {
			return r, nil
		}
	}
	return nil, nil
}

// machine returns the live state machine of round, building it from the
// stored status on first use.
func (s *GameService) machine(round *models.Round) *state.BaseStateMachine {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[round.ID]
	if !ok {
		m = state.NewRoundMachine(round.Status)
		if round.Status == models.RoundStatusOpen {
			s.machines[round.ID] = m
		}
	}
	return m
}

func (s *GameService) reopenMachine(roundID string) {
	s.mu.Lock()
	s.machines[roundID] = state.NewRoundMachine(models.RoundStatusOpen)
	s.mu.Unlock()
}

func (s *GameService) forgetRound(roundID string) {
	s.mu.Lock()
	id, ok := s.deadlines[roundID]
	delete(s.deadlines, roundID)
	delete(s.machines, roundID)
	s.mu.Unlock()
	if ok {
		s.timers.Cancel(id)
	}
}

func (s *GameService) armDeadline(gameID string, round *models.Round) {
	if round.Deadline.IsZero() {
		return
	}
	roundID := round.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deadlines[roundID]; ok {
		return
	}
	s.deadlines[roundID] = s.timers.At(round.Deadline, func() { s.onRoundDeadline(gameID, roundID) })
}

func (s *GameService) emit(room, eventType string, data any) {
	s.broadcaster.Broadcast(room, eventType, data)
}

func (s *GameService) emitRoundOpened(game *models.Game, round *models.Round, w *models.Wallpaper) {
	s.emit(game.Room(), network.EventRoundOpened, roundOpenedEvent{
		GameID:       game.ID,
		RoundID:      round.ID,
		Number:       round.Number,
		RoundsNumber: game.RoundsNumber,
		Players:      round.Players,
		Wallpaper:    wallpaperHint{ID: w.ID, Image: w.Image},
		Deadline:     round.Deadline,
	})
}
