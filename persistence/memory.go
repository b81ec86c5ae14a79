package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/wfunc/geoguess/models"
)

// MemoryStore keeps everything in process. Values are cloned on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	parties map[string]*models.Party
	codes   map[string]string
	games   map[string]*models.Game
	rounds  map[string]*models.Round
	guesses map[string][]*models.Guess // round id -> guesses in submit order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parties: make(map[string]*models.Party),
		codes:   make(map[string]string),
		games:   make(map[string]*models.Game),
		rounds:  make(map[string]*models.Round),
		guesses: make(map[string][]*models.Guess),
	}
}

func (s *MemoryStore) CreateParty(_ context.Context, p *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parties[p.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.codes[p.Code]; ok {
		return ErrDuplicate
	}
	p.Version = 1
	s.parties[p.ID] = p.Clone()
	s.codes[p.Code] = p.ID
	return nil
}

func (s *MemoryStore) GetParty(_ context.Context, id string) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parties[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetPartyByCode(_ context.Context, code string) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.parties[id].Clone(), nil
}

func (s *MemoryStore) UpdateParty(_ context.Context, p *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.parties[p.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != p.Version {
		return ErrVersionConflict
	}
	p.Version++
	if cur.Code != p.Code {
		delete(s.codes, cur.Code)
		s.codes[p.Code] = p.ID
	}
	s.parties[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) DeleteParty(_ context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.parties[id]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != version {
		return ErrVersionConflict
	}
	delete(s.codes, cur.Code)
	delete(s.parties, id)
	return nil
}

func (s *MemoryStore) CreateGame(_ context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return ErrDuplicate
	}
	g.Version = 1
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) UpdateGame(_ context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.games[g.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != g.Version {
		return ErrVersionConflict
	}
	g.Version++
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) ListGamesByStatus(_ context.Context, status models.GameStatus) ([]*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Game
	for _, g := range s.games {
		if g.Status == status {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) CreateRound(_ context.Context, r *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[r.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range s.rounds {
		if other.GameID != r.GameID {
			continue
		}
		if other.Number == r.Number || other.WallpaperID == r.WallpaperID {
			return ErrDuplicate
		}
	}
	r.Version = 1
	s.rounds[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) UpdateRound(_ context.Context, r *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRoundLocked(r)
}

func (s *MemoryStore) updateRoundLocked(r *models.Round) error {
	cur, ok := s.rounds[r.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != r.Version {
		return ErrVersionConflict
	}
	r.Version++
	s.rounds[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) ListRounds(_ context.Context, gameID string) ([]*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Round
	for _, r := range s.rounds {
		if r.GameID == gameID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryStore) RecordGuess(_ context.Context, g *models.Guess, round *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.guesses[g.RoundID] {
		if existing.PlayerID == g.PlayerID {
			return ErrDuplicate
		}
	}

	next := round.Clone()
	next.Guesses++
	if err := s.updateRoundLocked(next); err != nil {
		return err
	}
	round.Guesses = next.Guesses
	round.Version = next.Version

	c := *g
	s.guesses[g.RoundID] = append(s.guesses[g.RoundID], &c)
	return nil
}

func (s *MemoryStore) ListGuesses(_ context.Context, roundID string) ([]*models.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Guess, 0, len(s.guesses[roundID]))
	for _, g := range s.guesses[roundID] {
		c := *g
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) ListGameGuesses(_ context.Context, gameID string) ([]*models.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Guess
	for _, list := range s.guesses {
		for _, g := range list {
			if g.GameID == gameID {
				c := *g
				out = append(out, &c)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
