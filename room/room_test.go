package room

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/session"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	mu      sync.Mutex
	frames  []string
	sendErr error
}

func (m *MockConnection) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, string(data))
	return nil
}
func (m *MockConnection) Close() error                        { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, nil }

func (m *MockConnection) Frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

func newTestSession(id string, conn *MockConnection) *session.Session {
	return session.NewSession(id, conn, models.PlayerID("player_"+id), "party:test")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestRoomManager_GetOrCreate(t *testing.T) {
	manager := NewRoomManager(nil)
	defer manager.CloseAll()

	room := manager.GetOrCreate("party:p1")
	if room == nil {
		t.Fatal("GetOrCreate should not return nil")
	}
	if again := manager.GetOrCreate("party:p1"); again != room {
		t.Error("GetOrCreate should return the existing room")
	}
	retrievedRoom, exists := manager.GetRoom("party:p1")
	if !exists || retrievedRoom != room {
		t.Fatal("GetRoom should find the created room")
	}
	if manager.Count() != 1 {
		t.Errorf("Expected 1 room, got %d", manager.Count())
	}
}

func TestRoom_AddRemovePlayer(t *testing.T) {
	room := NewRoom("party:p2", nil)
	defer room.Close()

	player1 := newTestSession("s1", &MockConnection{})
	room.AddPlayer(player1)
	if room.Size() != 1 {
		t.Errorf("Expected player count to be 1, got %d", room.Size())
	}
	if _, exists := room.GetPlayer(player1.GetID()); !exists {
		t.Error("Player was not correctly added to the room")
	}

	if !room.RemovePlayer(player1.GetID()) {
		t.Error("RemovePlayer should report true for a present session")
	}
	if room.RemovePlayer(player1.GetID()) {
		t.Error("RemovePlayer should report false the second time")
	}
	if room.Size() != 0 {
		t.Errorf("Expected player count to be 0 after removing player, got %d", room.Size())
	}
}

func TestRoom_FIFODelivery(t *testing.T) {
	room := NewRoom("party:p3", nil)
	defer room.Close()

	c1, c2 := &MockConnection{}, &MockConnection{}
	room.AddPlayer(newTestSession("s1", c1))
	room.AddPlayer(newTestSession("s2", c2))

	want := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, f := range want {
		if !room.Enqueue([]byte(f)) {
			t.Fatalf("Enqueue(%s) should succeed", f)
		}
	}

	for _, c := range []*MockConnection{c1, c2} {
		waitFor(t, func() bool { return len(c.Frames()) == len(want) })
		got := c.Frames()
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Expected frames %v in order, got %v", want, got)
			}
		}
	}
}

func TestRoom_FailureReported(t *testing.T) {
	var mu sync.Mutex
	var failed []string
	room := NewRoom("party:p4", func(s *session.Session, err error) {
		mu.Lock()
		failed = append(failed, s.ID)
		mu.Unlock()
	})
	defer room.Close()

	good := &MockConnection{}
	bad := &MockConnection{sendErr: errors.New("closed")}
	room.AddPlayer(newTestSession("good", good))
	room.AddPlayer(newTestSession("bad", bad))

	room.Enqueue([]byte("e1"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	})
	if failed[0] != "bad" {
		t.Errorf("Expected the bad session to be reported, got %v", failed)
	}
	waitFor(t, func() bool { return len(good.Frames()) == 1 })
}

func TestRoom_EnqueueAfterClose(t *testing.T) {
	room := NewRoom("party:p5", nil)
	room.Close()
	room.Close()
	if room.Enqueue([]byte("late")) {
		t.Error("Enqueue after Close should be dropped")
	}
}

func TestRoomManager_RemoveIfEmpty(t *testing.T) {
	manager := NewRoomManager(nil)
	defer manager.CloseAll()

	room := manager.GetOrCreate("game:g1")
	room.AddPlayer(newTestSession("s1", &MockConnection{}))
	if manager.RemoveIfEmpty("game:g1") {
		t.Error("A room with sessions should not be removed")
	}
	room.RemovePlayer("s1")
	if !manager.RemoveIfEmpty("game:g1") {
		t.Error("An empty room should be removed")
	}
	if manager.Count() != 0 {
		t.Errorf("Expected 0 rooms, got %d", manager.Count())
	}
}
