package models

import (
	"sync"
	"testing"
	"time"

	"gorm.io/gorm/schema"
)

func TestGame_RoomAndClone(t *testing.T) {
	g := &Game{ID: "g1", Players: []PlayerID{"a", "b"}, Modifiers: map[string]any{"hint": true}}
	if g.Room() != "game:g1" {
		t.Errorf("Expected solo room game:g1, got %s", g.Room())
	}
	g.PartyID = "p1"
	if g.Room() != "party:p1" {
		t.Errorf("Expected party room party:p1, got %s", g.Room())
	}

	c := g.Clone()
	c.Players[0] = "z"
	c.Modifiers["hint"] = false
	if g.Players[0] != "a" || g.Modifiers["hint"] != true {
		t.Error("Clone should not share players or modifiers with the original")
	}
}

func TestStatusTerminal(t *testing.T) {
	if GameStatusPending.IsTerminal() || GameStatusInProgress.IsTerminal() {
		t.Error("Pending and in_progress are not terminal")
	}
	if !GameStatusAborted.IsTerminal() || !GameStatusCompleted.IsTerminal() {
		t.Error("Aborted and completed are terminal")
	}
}

func TestRoundRecord_DeadlineZeroIsNull(t *testing.T) {
	r := &Round{ID: "r1", GameID: "g1", Number: 1, Players: []PlayerID{"a"}, Status: RoundStatusOpen}
	rec := NewRoundRecord(r)
	if rec.Deadline != nil {
		t.Fatal("A round without deadline should store NULL")
	}

	r.Deadline = time.Now().Add(time.Minute)
	back, err := NewRoundRecord(r).ToRound()
	if err != nil {
		t.Fatalf("ToRound failed: %v", err)
	}
	if !back.Deadline.Equal(r.Deadline) {
		t.Errorf("Expected deadline %v, got %v", r.Deadline, back.Deadline)
	}
	if !back.IsEligible("a") || back.IsEligible("b") {
		t.Error("Eligibility should survive the record conversion")
	}
}

func TestGameRecord_ModifiersPassThrough(t *testing.T) {
	g := &Game{ID: "g1", Players: []PlayerID{"a"}, Modifiers: map[string]any{"no_move": true, "zoom": "off"}}
	rec, err := NewGameRecord(g)
	if err != nil {
		t.Fatalf("NewGameRecord failed: %v", err)
	}
	back, err := rec.ToGame()
	if err != nil {
		t.Fatalf("ToGame failed: %v", err)
	}
	if back.Modifiers["no_move"] != true || back.Modifiers["zoom"] != "off" {
		t.Errorf("Modifiers should pass through unchanged, got %v", back.Modifiers)
	}
}

func TestGuessRecord_ExactHitKeepsZeroDistance(t *testing.T) {
	s, err := schema.Parse(&GuessRecord{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("schema.Parse failed: %v", err)
	}
	// GORM omits zero-valued fields that carry a default on insert.
	if f := s.LookUpField("DistanceKm"); f == nil || f.HasDefaultValue {
		t.Fatalf("Expected distance_km without a GORM default, got %+v", f)
	}

	back := NewGuessRecord(&Guess{RoundID: "r1", PlayerID: "a", CountryCode: "FRA", DistanceKm: 0, Score: 5000}).ToGuess()
	if back.DistanceKm != 0 || back.Score != 5000 {
		t.Errorf("Expected an exact hit to stay at 0 km, got %v km", back.DistanceKm)
	}
}
