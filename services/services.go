// Package services holds the party manager and the game orchestrator.
package services

import (
	"errors"
	"sync"
	"time"

	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/persistence"
)

// Metrics receives game lifecycle signals. *monitor.Monitor satisfies it.
type Metrics interface {
	GameStarted()
	GameFinished(status string)
	GuessAccepted(latency time.Duration)
	RoundClosed(reason string)
}

type noopMetrics struct{}

func (noopMetrics) GameStarted()                {}
func (noopMetrics) GameFinished(string)         {}
func (noopMetrics) GuessAccepted(time.Duration) {}
func (noopMetrics) RoundClosed(string)          {}

// KeyedMutex hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// storeErr classifies a store failure for op. notFound names the missing entity.
func storeErr(op, notFound string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrRecordNotFound):
		return errs.E(errs.NotFound, op, "%s not found", notFound)
	case errors.Is(err, persistence.ErrVersionConflict):
		return &errs.Error{Kind: errs.Conflict, Op: op, Msg: notFound + " was modified concurrently", Err: err}
	case errors.Is(err, persistence.ErrDuplicate):
		return &errs.Error{Kind: errs.Conflict, Op: op, Msg: "duplicate " + notFound, Err: err}
	default:
		return errs.Wrap(errs.Unavailable, op, err)
	}
}
