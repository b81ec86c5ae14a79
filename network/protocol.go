package network

import (
	"encoding/json"
	"time"
)

// Server -> client event types.
const (
	EventPartyUpdated  = "party.updated"
	EventRoundOpened   = "round.opened"
	EventRoundGuess    = "round.guess"
	EventRoundClosed   = "round.closed"
	EventGameAborted   = "game.aborted"
	EventGameCompleted = "game.completed"
	EventWelcome       = "welcome"
	EventError         = "error"
	EventPong          = "pong"
)

// Client -> server message types.
const (
	MsgTypePing = "ping"
)

// Envelope is the JSON frame every event travels in.
type Envelope struct {
	Type   string          `json:"type"`
	Room   string          `json:"room,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

// Encode marshals data into an envelope frame.
func Encode(eventType, room string, data any) ([]byte, error) {
	env := Envelope{Type: eventType, Room: room, SentAt: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// ClientMessage is what clients send over the socket.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
