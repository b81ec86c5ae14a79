package session

import (
	"errors"
	"net"
	"testing"
	"time"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent    [][]byte
	sendErr error
}

func (m *MockConnection) Send(data []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}
func (m *MockConnection) Close() error                        { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{}, "alice", "party:p1")

	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	removed, ok := manager.Remove(sessionID)
	if !ok || removed != sess {
		t.Fatal("Remove should return the removed session")
	}
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}
	if _, ok := manager.Remove(sessionID); ok {
		t.Error("Removing twice should report false")
	}
}

func TestManager_GetByPlayer(t *testing.T) {
	manager := NewManager()
	manager.Add(NewSession("s1", &MockConnection{}, "alice", "party:p1"))
	manager.Add(NewSession("s2", &MockConnection{}, "alice", "game:g1"))
	manager.Add(NewSession("s3", &MockConnection{}, "bob", "party:p1"))

	if got := manager.GetByPlayer("alice", ""); len(got) != 2 {
		t.Errorf("Expected 2 sessions for alice, got %d", len(got))
	}
	got := manager.GetByPlayer("alice", "party:p1")
	if len(got) != 1 || got[0].ID != "s1" {
		t.Errorf("Expected s1 for alice in party:p1, got %v", got)
	}
	if got := manager.GetByPlayer("carol", ""); len(got) != 0 {
		t.Errorf("Expected no sessions for carol, got %d", len(got))
	}
}

func TestSession_SendTouches(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s1", conn, "alice", "party:p1")
	before := sess.LastActive()

	time.Sleep(2 * time.Millisecond)
	if err := sess.Send([]byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !sess.LastActive().After(before) {
		t.Error("Send should refresh LastActive")
	}
	if len(conn.sent) != 1 {
		t.Errorf("Expected 1 frame sent, got %d", len(conn.sent))
	}

	conn.sendErr = errors.New("broken pipe")
	if err := sess.Send([]byte("x")); err == nil {
		t.Error("Send should surface connection errors")
	}
}
