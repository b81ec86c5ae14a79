package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wfunc/geoguess/catalog"
	"github.com/wfunc/geoguess/config"
	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/persistence"
)

type sentEvent struct {
	Room string
	Type string
	Data any
}

// MockBroadcaster records every event instead of delivering it.
type MockBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *MockBroadcaster) Broadcast(roomID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Room: roomID, Type: eventType, Data: data})
}

func (b *MockBroadcaster) Events() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.events...)
}

func (b *MockBroadcaster) OfType(eventType string) []sentEvent {
	var out []sentEvent
	for _, e := range b.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// FlakyCatalog fails Select while failSelect is set.
type FlakyCatalog struct {
	catalog.Catalog
	failSelect atomic.Bool
}

func (c *FlakyCatalog) Select(ctx context.Context, mapName string, exclude []string) (*models.Wallpaper, error) {
	if c.failSelect.Load() {
		return nil, errors.New("catalog offline")
	}
	return c.Catalog.Select(ctx, mapName, exclude)
}

type fixture struct {
	store   *persistence.MemoryStore
	catalog *FlakyCatalog
	hub     *MockBroadcaster
	locks   *KeyedMutex
	parties *PartyService
	games   *GameService
}

func newFixture(t *testing.T, roundTimeout time.Duration) *fixture {
	t.Helper()
	wallpapers, err := catalog.LoadSeedFile("../catalog/testdata/wallpapers.json")
	if err != nil {
		t.Fatalf("Failed to load wallpapers: %v", err)
	}
	mem := catalog.NewMemoryCatalog(wallpapers)
	mem.Seed(7)

	f := &fixture{
		store:   persistence.NewMemoryStore(),
		catalog: &FlakyCatalog{Catalog: mem},
		hub:     &MockBroadcaster{},
		locks:   NewKeyedMutex(),
	}
	f.parties = NewPartyService(f.store, f.hub, f.locks, 6)
	f.games = NewGameService(f.store, f.catalog, f.hub, f.locks,
		config.GameConfig{RoundTimeout: roundTimeout, DefaultRounds: 3},
		WithRetryDelay(20*time.Millisecond))
	f.parties.SetGameHooks(f.games)
	t.Cleanup(f.games.Close)
	return f
}

// party creates a party administered by players[0] and joined by the rest.
func (f *fixture) party(t *testing.T, players ...models.PlayerID) *models.Party {
	t.Helper()
	ctx := context.Background()
	p, err := f.parties.CreateParty(ctx, players[0])
	if err != nil {
		t.Fatalf("CreateParty failed: %v", err)
	}
	for _, player := range players[1:] {
		if p, err = f.parties.JoinParty(ctx, p.Code, player); err != nil {
			t.Fatalf("JoinParty failed: %v", err)
		}
	}
	return p
}

func (f *fixture) exactGuess(t *testing.T, round *models.Round) GuessInput {
	t.Helper()
	w, err := f.catalog.Get(context.Background(), round.WallpaperID)
	if err != nil {
		t.Fatalf("Wallpaper lookup failed: %v", err)
	}
	return GuessInput{CountryCode: w.Country.Code, Lat: w.Lat, Lng: w.Lng}
}

func wrongGuess() GuessInput {
	return GuessInput{CountryCode: "XXX"}
}

func intPtr(n int) *int { return &n }

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func expectKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	if !errs.Is(kind, err) {
		t.Fatalf("Expected %s error, got %v", kind, err)
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("game:1")
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("Two holders of the same key ran concurrently")
	}
	if km.Len() != 0 {
		t.Errorf("Expected no retained keys, got %d", km.Len())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("game:a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("game:b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("A different key should not block")
	}
}

func TestDistanceScorer(t *testing.T) {
	lat, lng := 48.8566, 2.3522
	w := &models.Wallpaper{Country: models.Place{Code: "FRA"}, Lat: &lat, Lng: &lng}
	sc := DistanceScorer{}

	score, d := sc.Score(&models.Guess{Lat: &lat, Lng: &lng}, w)
	if score != MaxScore || d != 0 {
		t.Errorf("Expected a perfect score at distance 0, got %d at %.1f", score, d)
	}

	prev := MaxScore + 1
	for _, guessLat := range []float64{48.8566, 47, 44, 35, 10, -40} {
		gl := guessLat
		s, _ := sc.Score(&models.Guess{Lat: &gl, Lng: &lng}, w)
		if s > prev {
			t.Errorf("Score must not grow with distance: %d after %d", s, prev)
		}
		prev = s
	}

	noCoords := &models.Wallpaper{Country: models.Place{Code: "FRA"}}
	if s, d := sc.Score(&models.Guess{CountryCode: "fra"}, noCoords); s != MaxScore || d != -1 {
		t.Errorf("Expected a country match to score %d with unknown distance, got %d, %.1f", MaxScore, s, d)
	}
	if s, _ := sc.Score(&models.Guess{CountryCode: "ITA"}, noCoords); s != 0 {
		t.Errorf("Expected a wrong country to score 0, got %d", s)
	}
}

func TestHaversine(t *testing.T) {
	// Paris to London is about 344 km.
	d := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330 || d > 360 {
		t.Errorf("Expected about 344 km, got %.1f", d)
	}
}

func TestStandings_TieBreak(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	guesses := []*models.Guess{
		{PlayerID: "a", Score: 3000, SubmittedAt: base.Add(5 * time.Second)},
		{PlayerID: "b", Score: 1000, SubmittedAt: base.Add(1 * time.Second)},
		{PlayerID: "b", Score: 2000, SubmittedAt: base.Add(2 * time.Second)},
		{PlayerID: "c", Score: 100, SubmittedAt: base},
	}
	totals, winner := standings([]models.PlayerID{"a", "b", "c"}, guesses)
	if totals["a"] != 3000 || totals["b"] != 3000 {
		t.Fatalf("Unexpected totals %v", totals)
	}
	if winner != "b" {
		t.Errorf("Expected b, whose last scoring guess came first, got %s", winner)
	}

	_, winner = standings([]models.PlayerID{"x", "y"}, nil)
	if winner != "x" {
		t.Errorf("Expected roster order to break a scoreless tie, got %s", winner)
	}
}

func TestModeRules(t *testing.T) {
	mode, rules, ok := RulesFor("")
	if !ok || mode != models.GameModeStandard {
		t.Fatalf("Expected the empty mode to resolve to standard, got %q %v", mode, ok)
	}
	if rules.timeout(time.Minute) != time.Minute {
		t.Error("Standard rules should keep the configured timeout")
	}
	if rules.MaxRounds != 0 {
		t.Errorf("Expected no round cap on standard, got %d", rules.MaxRounds)
	}
	if _, _, ok := RulesFor("battle_royale"); ok {
		t.Error("Unknown modes must not resolve")
	}

	RegisterMode("blitz", ModeRules{RoundTimeout: func(time.Duration) time.Duration { return 10 * time.Second }})
	_, blitz, ok := RulesFor("blitz")
	if !ok || blitz.timeout(time.Minute) != 10*time.Second {
		t.Error("Registered mode rules should apply")
	}
}
