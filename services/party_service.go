package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/geoguess/broadcast"
	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/network"
	"github.com/wfunc/geoguess/persistence"
)

// codeAlphabet leaves out 0/O and 1/I.
const (
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts   = 8
	minCodeLength  = 4
	defaultCodeLen = 6
)

// GameHooks lets the party manager tell the orchestrator about membership
// changes that affect a running game. Hooks run after the party lock is released.
type GameHooks interface {
	PlayerLeft(ctx context.Context, gameID string, player models.PlayerID)
	PartyEmptied(ctx context.Context, gameID string)
}

type PartyService struct {
	store       persistence.Store
	broadcaster broadcast.Broadcaster
	locks       *KeyedMutex
	hooks       GameHooks
	codeLength  int
	now         func() time.Time
}

func NewPartyService(store persistence.Store, b broadcast.Broadcaster, locks *KeyedMutex, codeLength int) *PartyService {
	if codeLength < minCodeLength {
		codeLength = defaultCodeLen
	}
	return &PartyService{
		store:       store,
		broadcaster: b,
		locks:       locks,
		codeLength:  codeLength,
		now:         time.Now,
	}
}

// SetGameHooks wires the orchestrator in. It must be called before serving.
func (s *PartyService) SetGameHooks(h GameHooks) {
	s.hooks = h
}

func partyKey(id string) string { return "party:" + id }

// CreateParty makes admin the sole member of a new party with a fresh join code.
func (s *PartyService) CreateParty(ctx context.Context, admin models.PlayerID) (*models.Party, error) {
	const op = "party.create"
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := generateCode(s.codeLength)
		if err != nil {
			return nil, errs.Wrap(errs.Other, op, err)
		}
		p := &models.Party{
			ID:        uuid.NewString(),
			Admin:     admin,
			Players:   []models.PlayerID{admin},
			Code:      code,
			CreatedAt: s.now().UTC(),
		}
		err = s.store.CreateParty(ctx, p)
		if errors.Is(err, persistence.ErrDuplicate) {
			logger.Log.Debugw("party code collision", "code", code, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, storeErr(op, "party", err)
		}
		logger.Log.Infow("party created", "party", p.ID, "admin", admin, "code", code)
		s.broadcaster.Broadcast(p.Room(), network.EventPartyUpdated, p)
		return p, nil
	}
	return nil, errs.E(errs.Conflict, op, "could not allocate a unique party code")
}

// JoinParty adds player to the party behind code. Joining twice is a no-op.
func (s *PartyService) JoinParty(ctx context.Context, code string, player models.PlayerID) (*models.Party, error) {
	const op = "party.join"
	found, err := s.store.GetPartyByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, storeErr(op, "party", err)
	}

	unlock := s.locks.Lock(partyKey(found.ID))
	defer unlock()

	p, err := s.store.GetParty(ctx, found.ID)
	if err != nil {
		return nil, storeErr(op, "party", err)
	}
	if p.HasPlayer(player) {
		return p, nil
	}
	if p.ActiveGameID != "" {
		g, err := s.store.GetGame(ctx, p.ActiveGameID)
		if err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, storeErr(op, "game", err)
		}
		if g != nil && g.Status == models.GameStatusInProgress {
			return nil, errs.E(errs.InvalidState, op, "party game already started")
		}
	}

	p.Players = append(p.Players, player)
	if err := s.store.UpdateParty(ctx, p); err != nil {
		return nil, storeErr(op, "party", err)
	}
	logger.Log.Infow("player joined party", "party", p.ID, "player", player)
	s.broadcaster.Broadcast(p.Room(), network.EventPartyUpdated, p)
	return p, nil
}

type partyDeleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// LeaveParty removes player. Admin rights pass to the longest-tenured member
// left; the last member leaving deletes the party, reported by deleted.
func (s *PartyService) LeaveParty(ctx context.Context, partyID string, player models.PlayerID) (p *models.Party, deleted bool, err error) {
	const op = "party.leave"
	p, deleted, err = s.leave(ctx, op, partyID, player)
	if err != nil {
		return nil, false, err
	}

	if p.ActiveGameID != "" && s.hooks != nil {
		if deleted {
			s.hooks.PartyEmptied(ctx, p.ActiveGameID)
		} else {
			s.hooks.PlayerLeft(ctx, p.ActiveGameID, player)
		}
	}
	return p, deleted, nil
}

func (s *PartyService) leave(ctx context.Context, op, partyID string, player models.PlayerID) (*models.Party, bool, error) {
	unlock := s.locks.Lock(partyKey(partyID))
	defer unlock()

	p, err := s.store.GetParty(ctx, partyID)
	if err != nil {
		return nil, false, storeErr(op, "party", err)
	}
	idx := slices.Index(p.Players, player)
	if idx < 0 {
		return nil, false, errs.E(errs.InvalidState, op, "player is not a member of the party")
	}
	p.Players = slices.Delete(p.Players, idx, idx+1)

	if len(p.Players) == 0 {
		if err := s.store.DeleteParty(ctx, p.ID, p.Version); err != nil {
			return nil, false, storeErr(op, "party", err)
		}
		logger.Log.Infow("party deleted", "party", p.ID, "last_player", player)
		s.broadcaster.Broadcast(p.Room(), network.EventPartyUpdated, partyDeleted{ID: p.ID, Deleted: true})
		return p, true, nil
	}

	if p.Admin == player {
		p.Admin = p.Players[0]
	}
	if err := s.store.UpdateParty(ctx, p); err != nil {
		return nil, false, storeErr(op, "party", err)
	}
	logger.Log.Infow("player left party", "party", p.ID, "player", player, "admin", p.Admin)
	s.broadcaster.Broadcast(p.Room(), network.EventPartyUpdated, p)
	return p, false, nil
}

func (s *PartyService) GetParty(ctx context.Context, partyID string) (*models.Party, error) {
	p, err := s.store.GetParty(ctx, partyID)
	if err != nil {
		return nil, storeErr("party.get", "party", err)
	}
	return p, nil
}

func (s *PartyService) GetPartyByCode(ctx context.Context, code string) (*models.Party, error) {
	p, err := s.store.GetPartyByCode(ctx, code)
	if err != nil {
		return nil, storeErr("party.get", "party", err)
	}
	return p, nil
}

func generateCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
