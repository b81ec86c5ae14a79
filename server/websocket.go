package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wfunc/geoguess/auth"
	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/network"
)

type welcome struct {
	SessionID string          `json:"session_id"`
	Room      string          `json:"room"`
	Player    models.PlayerID `json:"player"`
}

// handleWebSocket authenticates and authorizes before upgrading, so a bad
// token or room is a plain HTTP error.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		writeError(w, r, errs.E(errs.Validation, "ws.connect", "room is required"))
		return
	}
	player, err := s.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.authorizeRoom(r.Context(), roomID, player); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)

	sess, err := s.hub.Register(uuid.NewString(), player, roomID, wsConn)
	if err != nil {
		logger.Log.Warnw("websocket register failed", "player", player, "room", roomID, "error", err)
		_ = wsConn.Close()
		return
	}
	logger.Log.Infow("websocket connected", "session", sess.ID, "player", player, "room", roomID, "remote", wsConn.RemoteAddr().String())
	_ = s.hub.SendTo(sess.ID, network.EventWelcome, welcome{SessionID: sess.ID, Room: roomID, Player: player})

	defer func() {
		s.hub.Unregister(sess.ID)
		_ = wsConn.Close()
		logger.Log.Infow("websocket disconnected", "session", sess.ID, "player", player, "room", roomID)
	}()

	for {
		data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch()

		var msg network.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = s.hub.SendTo(sess.ID, network.EventError, map[string]string{"message": "malformed message"})
			continue
		}
		switch msg.Type {
		case network.MsgTypePing:
			_ = s.hub.SendTo(sess.ID, network.EventPong, nil)
		default:
			_ = s.hub.SendTo(sess.ID, network.EventError, map[string]string{"message": "unsupported message type " + msg.Type})
		}
	}
}

// authorizeRoom checks that player belongs to the party or solo game behind roomID.
func (s *GameServer) authorizeRoom(ctx context.Context, roomID string, player models.PlayerID) error {
	const op = "ws.connect"
	kind, id, ok := strings.Cut(roomID, ":")
	if !ok || id == "" {
		return errs.E(errs.Validation, op, "unknown room %q", roomID)
	}
	switch kind {
	case "party":
		p, err := s.parties.GetParty(ctx, id)
		if err != nil {
			return err
		}
		if !p.HasPlayer(player) {
			return errs.E(errs.Forbidden, op, "not a member of this party")
		}
	case "game":
		view, err := s.games.GetGame(ctx, id)
		if err != nil {
			return err
		}
		if !view.Game.HasPlayer(player) {
			return errs.E(errs.Forbidden, op, "not a player of this game")
		}
	default:
		return errs.E(errs.Validation, op, "unknown room %q", roomID)
	}
	return nil
}
