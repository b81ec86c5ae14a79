package room

import (
	"sync"
	"time"

	"github.com/wfunc/geoguess/session"
)

// Room groups the sessions subscribed to one broadcast room and delivers
// frames to them in FIFO order from a single outbox goroutine.
type Room struct {
	ID        string
	CreatedAt time.Time

	Players     map[string]*session.Session // sessionID -> session
	playerMutex sync.RWMutex

	queue     [][]byte
	queueMu   sync.Mutex
	signal    chan struct{}
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	onFailure FailureFunc
}

func NewRoom(id string, onFailure FailureFunc) *Room {
	room := &Room{
		ID:        id,
		CreatedAt: time.Now(),
		Players:   make(map[string]*session.Session),
		signal:    make(chan struct{}, 1),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
		onFailure: onFailure,
	}
	go room.loop()
	return room
}

func (r *Room) GetID() string {
	return r.ID
}

func (r *Room) AddPlayer(s *session.Session) {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()
	r.Players[s.ID] = s
}

// RemovePlayer reports whether the session was present.
func (r *Room) RemovePlayer(sessionID string) bool {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()

	if _, exists := r.Players[sessionID]; !exists {
		return false
	}
	delete(r.Players, sessionID)
	return true
}

func (r *Room) GetPlayer(sessionID string) (*session.Session, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	player, exists := r.Players[sessionID]
	return player, exists
}

// GetSessions returns a slice of all sessions in the room (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.Players))
	for _, s := range r.Players {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Room) Size() int {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	return len(r.Players)
}

// Enqueue appends a frame to the outbox without blocking. Frames enqueued
// after Close are dropped.
func (r *Room) Enqueue(frame []byte) bool {
	select {
	case <-r.closeChan:
		return false
	default:
	}

	r.queueMu.Lock()
	r.queue = append(r.queue, frame)
	r.queueMu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
	return true
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.signal:
			r.drain()
		case <-r.closeChan:
			return
		}
	}
}

func (r *Room) drain() {
	for {
		r.queueMu.Lock()
		if len(r.queue) == 0 {
			r.queueMu.Unlock()
			return
		}
		frame := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.queueMu.Unlock()

		for _, s := range r.GetSessions() {
			if err := s.Send(frame); err != nil && r.onFailure != nil {
				r.onFailure(s, err)
			}
		}
	}
}

// Close stops the outbox goroutine and waits for it. Undelivered frames are discarded.
func (r *Room) Close() {
	r.stop()
	<-r.done
}

func (r *Room) stop() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
}

// Manager owns the live rooms.
type Manager struct {
	rooms     map[string]*Room
	mutex     sync.RWMutex
	onFailure FailureFunc
}

func NewRoomManager(onFailure FailureFunc) *Manager {
	return &Manager{
		rooms:     make(map[string]*Room),
		onFailure: onFailure,
	}
}

func (m *Manager) GetOrCreate(id string) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		return room
	}
	room := NewRoom(id, m.onFailure)
	m.rooms[id] = room
	return room
}

func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// RemoveIfEmpty drops the room when it has no sessions left. The outbox is
// stopped without waiting, so it is safe to call from a FailureFunc.
func (m *Manager) RemoveIfEmpty(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[id]
	if !exists || room.Size() > 0 {
		return false
	}
	delete(m.rooms, id)
	room.stop()
	return true
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// Sizes returns the session count per room.
func (m *Manager) Sizes() map[string]int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]int, len(m.rooms))
	for id, room := range m.rooms {
		out[id] = room.Size()
	}
	return out
}

// CloseAll closes every room.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mutex.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
