package services

import (
	"sync"
	"time"

	"github.com/wfunc/geoguess/models"
)

// ModeRules are the per-mode knobs the orchestrator consults.
type ModeRules struct {
	// MaxRounds caps rounds_number. Zero means no cap.
	MaxRounds int
	// RoundTimeout derives the round deadline from the configured timeout.
	// Nil keeps the configured value.
	RoundTimeout func(configured time.Duration) time.Duration
}

func (r ModeRules) timeout(configured time.Duration) time.Duration {
	if r.RoundTimeout == nil {
		return configured
	}
	return r.RoundTimeout(configured)
}

var (
	modesMu sync.RWMutex
	modes   = map[models.GameMode]ModeRules{
		models.GameModeStandard: {},
	}
)

// RegisterMode adds or replaces the rules of mode.
func RegisterMode(mode models.GameMode, rules ModeRules) {
	modesMu.Lock()
	modes[mode] = rules
	modesMu.Unlock()
}

// RulesFor returns the rules of mode; an empty mode is standard.
func RulesFor(mode models.GameMode) (models.GameMode, ModeRules, bool) {
	if mode == "" {
		mode = models.GameModeStandard
	}
	modesMu.RLock()
	defer modesMu.RUnlock()
	rules, ok := modes[mode]
	return mode, rules, ok
}
