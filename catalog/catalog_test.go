package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/wfunc/geoguess/models"
)

func loadTestCatalog(t *testing.T) *MemoryCatalog {
	t.Helper()
	wallpapers, err := LoadSeedFile("testdata/wallpapers.json")
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}
	c := NewMemoryCatalog(wallpapers)
	c.Seed(42)
	return c
}

func TestGenerateTags(t *testing.T) {
	tags := GenerateTags(models.Place{Code: "FRA", Text: "France"}, &models.Place{Code: "NOR", Text: "Normandy"})
	want := []string{"Europe", "France", "Normandy", "World"}
	if len(tags) != len(want) {
		t.Fatalf("Expected %v, got %v", want, tags)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, tags)
		}
	}

	unknown := GenerateTags(models.Place{Code: "XXX", Text: "Atlantis"}, nil)
	if len(unknown) != 2 || unknown[0] != "World" || unknown[1] != "Atlantis" {
		t.Errorf("Unknown country should fall back to World once, got %v", unknown)
	}
}

func TestMemoryCatalog_CountByMap(t *testing.T) {
	c := loadTestCatalog(t)
	ctx := context.Background()

	cases := map[string]int{
		"":              14,
		"World":         14,
		"Europe":        5,
		"europe":        5,
		"Asia,Oceania":  4,
		"France":        1,
		"Arizona":       1,
		"Antarctica":    0,
	}
	for mapName, want := range cases {
		got, err := c.Count(ctx, mapName)
		if err != nil {
			t.Fatalf("Count(%q) failed: %v", mapName, err)
		}
		if got != want {
			t.Errorf("Count(%q) = %d, want %d", mapName, got, want)
		}
	}
}

func TestMemoryCatalog_SelectExcludes(t *testing.T) {
	c := loadTestCatalog(t)
	ctx := context.Background()

	var seen []string
	for i := 0; i < 5; i++ {
		w, err := c.Select(ctx, "Europe", seen)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		for _, id := range seen {
			if id == w.ID {
				t.Fatalf("Wallpaper %s selected twice", w.ID)
			}
		}
		seen = append(seen, w.ID)
	}

	if _, err := c.Select(ctx, "Europe", seen); !errors.Is(err, ErrNoWallpaper) {
		t.Errorf("Expected ErrNoWallpaper once Europe is exhausted, got %v", err)
	}
}

func TestMemoryCatalog_Maps(t *testing.T) {
	c := loadTestCatalog(t)
	maps, err := c.Maps(context.Background())
	if err != nil {
		t.Fatalf("Maps failed: %v", err)
	}
	if len(maps) != 6 {
		t.Fatalf("Expected World plus 5 continents, got %+v", maps)
	}
	if maps[0].Name != "World" || maps[0].Count != 14 {
		t.Errorf("World should come first with 14, got %+v", maps[0])
	}
	if maps[1].Name != "Europe" || maps[1].Count != 5 {
		t.Errorf("Europe should be the largest continent, got %+v", maps[1])
	}
	for i := 2; i < len(maps); i++ {
		if maps[i].Count > maps[i-1].Count && i > 1 {
			t.Errorf("Maps should be sorted by count desc after World: %+v", maps)
		}
	}
}

func TestMemoryCatalog_GetReturnsCopy(t *testing.T) {
	c := loadTestCatalog(t)
	w, err := c.Get(context.Background(), "w-fra-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	w.Title = "changed"
	again, _ := c.Get(context.Background(), "w-fra-1")
	if again.Title == "changed" {
		t.Error("Get should return a copy")
	}
	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNoWallpaper) {
		t.Errorf("Expected ErrNoWallpaper, got %v", err)
	}
}
