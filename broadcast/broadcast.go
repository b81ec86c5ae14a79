package broadcast

import (
	"errors"
	"sync"

	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/monitor"
	"github.com/wfunc/geoguess/network"
	"github.com/wfunc/geoguess/room"
	"github.com/wfunc/geoguess/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrHubClosed       = errors.New("hub closed")
)

// Broadcaster is the emit side of the hub, as the game services see it.
type Broadcaster interface {
	Broadcast(roomID, eventType string, data any)
}

// Relay carries frames between server instances.
type Relay interface {
	Publish(roomID string, frame []byte) error
	Subscribe(deliver func(roomID string, frame []byte)) error
	Close() error
}

type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	PerRoom     map[string]int `json:"per_room"`
}

// Hub is the registry of live connections. Delivery is per room, in order,
// and never blocks the caller of Broadcast.
type Hub struct {
	mu       sync.Mutex
	sessions *session.Manager
	rooms    *room.Manager
	relay    Relay
	monitor  *monitor.Monitor
	closed   bool
}

type Option func(*Hub)

func WithMonitor(m *monitor.Monitor) Option {
	return func(h *Hub) { h.monitor = m }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{sessions: session.NewManager()}
	h.rooms = room.NewRoomManager(h.onSendFailure)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetRelay attaches a relay and starts consuming frames from other instances.
func (h *Hub) SetRelay(r Relay) error {
	if err := r.Subscribe(h.DeliverLocal); err != nil {
		return err
	}
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
	return nil
}

// Register binds conn to roomID for player. A previous session of the same
// player in the same room is evicted and its connection closed.
func (h *Hub) Register(sessionID string, player models.PlayerID, roomID string, conn network.Connection) (*session.Session, error) {
	s := session.NewSession(sessionID, conn, player, roomID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	evicted := h.sessions.GetByPlayer(player, roomID)
	for _, old := range evicted {
		h.detachLocked(old)
	}
	h.sessions.Add(s)
	h.rooms.GetOrCreate(roomID).AddPlayer(s)
	h.monitor.IncConnections()
	h.monitor.SetActiveRooms(h.rooms.Count())
	h.mu.Unlock()

	for _, old := range evicted {
		logger.Log.Infow("websocket session evicted", "session", old.ID, "player", player, "room", roomID)
		_ = old.Close()
	}
	return s, nil
}

// Unregister forgets the session. It does not close the connection or touch
// party and game state.
func (h *Hub) Unregister(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions.Get(sessionID)
	if !ok {
		return false
	}
	h.detachLocked(s)
	return true
}

// detachLocked must be called with h.mu held.
func (h *Hub) detachLocked(s *session.Session) {
	if _, ok := h.sessions.Remove(s.ID); !ok {
		return
	}
	if r, ok := h.rooms.GetRoom(s.RoomID); ok {
		r.RemovePlayer(s.ID)
		h.rooms.RemoveIfEmpty(s.RoomID)
	}
	h.monitor.DecConnections()
	h.monitor.SetActiveRooms(h.rooms.Count())
}

func (h *Hub) onSendFailure(s *session.Session, err error) {
	logger.Log.Warnw("websocket send failed, dropping session", "session", s.ID, "player", s.PlayerID, "room", s.RoomID, "error", err)
	h.monitor.IncDropped()
	if h.Unregister(s.ID) {
		go func() { _ = s.Close() }()
	}
}

// Broadcast encodes the event once and queues it for every local session in
// the room, then publishes it to the relay if one is attached.
func (h *Hub) Broadcast(roomID, eventType string, data any) {
	frame, err := network.Encode(eventType, roomID, data)
	if err != nil {
		logger.Log.Errorw("failed to encode event", "type", eventType, "room", roomID, "error", err)
		return
	}
	h.DeliverLocal(roomID, frame)

	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay != nil {
		if err := relay.Publish(roomID, frame); err != nil {
			logger.Log.Warnw("relay publish failed", "room", roomID, "error", err)
		}
	}
}

// DeliverLocal queues an encoded frame for the room's local sessions only.
func (h *Hub) DeliverLocal(roomID string, frame []byte) {
	if r, ok := h.rooms.GetRoom(roomID); ok {
		r.Enqueue(frame)
	}
}

// SendTo writes an event straight to one session, bypassing the room outbox.
func (h *Hub) SendTo(sessionID, eventType string, data any) error {
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	frame, err := network.Encode(eventType, s.RoomID, data)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

func (h *Hub) Stats() Stats {
	perRoom := h.rooms.Sizes()
	return Stats{
		Connections: h.sessions.Count(),
		Rooms:       len(perRoom),
		PerRoom:     perRoom,
	}
}

// Close closes every session and stops all outboxes and the relay.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	relay := h.relay
	h.relay = nil
	sessions := h.sessions.All()
	for _, s := range sessions {
		h.detachLocked(s)
	}
	h.mu.Unlock()

	if relay != nil {
		_ = relay.Close()
	}
	h.rooms.CloseAll()
	for _, s := range sessions {
		_ = s.Close()
	}
}
