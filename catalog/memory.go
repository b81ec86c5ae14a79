package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"

	"github.com/wfunc/geoguess/models"
)

// MemoryCatalog serves wallpapers loaded from a JSON seed file.
type MemoryCatalog struct {
	mu         sync.Mutex
	wallpapers []*models.Wallpaper
	byID       map[string]*models.Wallpaper
	rng        *rand.Rand
}

func NewMemoryCatalog(wallpapers []*models.Wallpaper) *MemoryCatalog {
	c := &MemoryCatalog{
		byID: make(map[string]*models.Wallpaper, len(wallpapers)),
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, w := range wallpapers {
		if len(w.Tags) == 0 {
			w.Tags = GenerateTags(w.Country, w.State)
		}
		c.wallpapers = append(c.wallpapers, w)
		c.byID[w.ID] = w
	}
	return c
}

// LoadSeedFile reads a JSON array of wallpapers.
func LoadSeedFile(path string) ([]*models.Wallpaper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wallpapers []*models.Wallpaper
	if err := json.Unmarshal(data, &wallpapers); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, w := range wallpapers {
		if w.ID == "" {
			return nil, fmt.Errorf("wallpaper %d in %s has no id", i, path)
		}
	}
	return wallpapers, nil
}

// Seed fixes the random source, for deterministic selection in tests.
func (c *MemoryCatalog) Seed(seed uint64) {
	c.mu.Lock()
	c.rng = rand.New(rand.NewPCG(seed, seed))
	c.mu.Unlock()
}

func (c *MemoryCatalog) candidates(mapName string, exclude []string) []*models.Wallpaper {
	filter := ParseMap(mapName)
	var out []*models.Wallpaper
	for _, w := range c.wallpapers {
		if Matches(w, filter) && !slices.Contains(exclude, w.ID) {
			out = append(out, w)
		}
	}
	return out
}

func (c *MemoryCatalog) Select(_ context.Context, mapName string, exclude []string) (*models.Wallpaper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := c.candidates(mapName, exclude)
	if len(pool) == 0 {
		return nil, ErrNoWallpaper
	}
	w := *pool[c.rng.IntN(len(pool))]
	return &w, nil
}

func (c *MemoryCatalog) Count(_ context.Context, mapName string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates(mapName, nil)), nil
}

func (c *MemoryCatalog) Get(_ context.Context, id string) (*models.Wallpaper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.byID[id]
	if !ok {
		return nil, ErrNoWallpaper
	}
	cp := *w
	return &cp, nil
}

func (c *MemoryCatalog) Maps(_ context.Context) ([]models.MapInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := map[string]int{WorldMap: 0}
	for _, w := range c.wallpapers {
		for _, tag := range w.Tags {
			if isMapName(tag) {
				counts[tag]++
			}
		}
	}
	return sortMaps(counts), nil
}
