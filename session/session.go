package session

import (
	"sync"
	"time"

	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/network"
)

// Session is one live connection of a player bound to one room.
type Session struct {
	ID         string
	Conn       network.Connection
	PlayerID   models.PlayerID
	RoomID     string
	CreatedAt  time.Time
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection, player models.PlayerID, roomID string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		PlayerID:   player,
		RoomID:     roomID,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Send(data []byte) error {
	if err := s.Conn.Send(data); err != nil {
		return err
	}
	s.Touch()
	return nil
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager indexes live sessions by id.
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

// Remove deletes the session and reports whether it was present.
func (m *Manager) Remove(sessionID string) (*Session, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return s, ok
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByPlayer returns the player's sessions in roomID, or in every room when roomID is empty.
func (m *Manager) GetByPlayer(player models.PlayerID, roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.PlayerID == player && (roomID == "" || session.RoomID == roomID) {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of every session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
