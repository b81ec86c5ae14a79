package timer

import (
	"sync"
	"testing"
	"time"
)

func TestTimerManager_FiresInOrder(t *testing.T) {
	m := NewTimerManager()
	defer m.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 3)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	m.AfterFunc(60*time.Millisecond, record(3))
	m.AfterFunc(20*time.Millisecond, record(1))
	m.AfterFunc(40*time.Millisecond, record(2))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Timer %d did not fire", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i+1 {
			t.Fatalf("Expected order [1 2 3], got %v", order)
		}
	}
}

func TestTimerManager_Cancel(t *testing.T) {
	m := NewTimerManager()
	defer m.Stop()

	fired := make(chan struct{}, 1)
	id := m.AfterFunc(30*time.Millisecond, func() { fired <- struct{}{} })

	if m.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", m.Pending())
	}
	if !m.Cancel(id) {
		t.Fatal("Cancel should report true for a pending timer")
	}
	if m.Cancel(id) {
		t.Error("Second Cancel should report false")
	}

	select {
	case <-fired:
		t.Fatal("Cancelled timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestTimerManager_PastDeadlineFiresImmediately(t *testing.T) {
	m := NewTimerManager()
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.At(time.Now().Add(-time.Minute), func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Overdue timer should fire right away")
	}
	if m.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", m.Pending())
	}
}

func TestTimerManager_StopDropsPending(t *testing.T) {
	m := NewTimerManager()
	fired := make(chan struct{}, 1)
	m.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	m.Stop()
	m.Stop()

	select {
	case <-fired:
		t.Fatal("Timer fired after Stop")
	case <-time.After(60 * time.Millisecond):
	}
}
