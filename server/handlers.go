package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/skip2/go-qrcode"

	"github.com/wfunc/geoguess/auth"
	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/services"
)

const qrSize = 256

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	msg := errs.Message(err)
	switch {
	case status == http.StatusServiceUnavailable:
		logger.Log.Warnw("request failed", "path", r.URL.Path, "error", err)
		msg = "service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		logger.Log.Errorw("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errs.E(errs.Validation, "request.decode", "invalid JSON body: %v", err)
}

func player(r *http.Request) models.PlayerID {
	id, _ := auth.PlayerFrom(r.Context())
	return id
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GameServer) handleMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.catalog.Maps(r.Context())
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Unavailable, "maps.list", err))
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *GameServer) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	p, err := s.parties.CreateParty(r.Context(), player(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type joinRequest struct {
	Code string `json:"code"`
}

func (s *GameServer) handleJoinParty(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, errs.E(errs.Validation, "party.join", "code is required"))
		return
	}
	p, err := s.parties.JoinParty(r.Context(), req.Code, player(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type leaveRequest struct {
	PartyID string `json:"party_id"`
}

type leaveResponse struct {
	Party   *models.Party `json:"party,omitempty"`
	Deleted bool          `json:"deleted"`
}

func (s *GameServer) handleLeaveParty(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PartyID == "" {
		writeError(w, r, errs.E(errs.Validation, "party.leave", "party_id is required"))
		return
	}
	p, deleted, err := s.parties.LeaveParty(r.Context(), req.PartyID, player(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := leaveResponse{Deleted: deleted}
	if !deleted {
		resp.Party = p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *GameServer) handleGetParty(w http.ResponseWriter, r *http.Request) {
	p, err := s.parties.GetParty(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !p.HasPlayer(player(r)) {
		writeError(w, r, errs.E(errs.Forbidden, "party.get", "not a member of this party"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePartyQR renders the party's join link as a PNG.
func (s *GameServer) handlePartyQR(w http.ResponseWriter, r *http.Request) {
	p, err := s.parties.GetPartyByCode(r.Context(), strings.ToUpper(chi.URLParam(r, "code")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	link := strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/join/" + p.Code
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Other, "party.qr", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

type startRequest struct {
	PartyID      string          `json:"party_id"`
	Map          string          `json:"map"`
	Mode         models.GameMode `json:"mode"`
	RoundsNumber *int            `json:"rounds_number"`
	Modifiers    map[string]any  `json:"modifiers"`
}

type startResponse struct {
	Game  *models.Game  `json:"game"`
	Round *models.Round `json:"round"`
}

func (s *GameServer) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	game, round, err := s.games.StartGame(r.Context(), services.StartRequest{
		PartyID:      req.PartyID,
		Player:       player(r),
		Map:          req.Map,
		Mode:         req.Mode,
		RoundsNumber: req.RoundsNumber,
		Modifiers:    req.Modifiers,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{Game: game, Round: round})
}

func (s *GameServer) handleGetGame(w http.ResponseWriter, r *http.Request) {
	view, err := s.games.GetGame(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !view.Game.HasPlayer(player(r)) {
		writeError(w, r, errs.E(errs.Forbidden, "game.get", "not a player of this game"))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// guessReceipt confirms a guess without revealing its score before the round closes.
type guessReceipt struct {
	GameID      string          `json:"game_id"`
	RoundID     string          `json:"round_id"`
	PlayerID    models.PlayerID `json:"player_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

func (s *GameServer) handleGuess(w http.ResponseWriter, r *http.Request) {
	var in services.GuessInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.games.SubmitGuess(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "roundId"), player(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, guessReceipt{
		GameID:      g.GameID,
		RoundID:     g.RoundID,
		PlayerID:    g.PlayerID,
		SubmittedAt: g.SubmittedAt,
	})
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *GameServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	game, err := s.games.AbortGame(r.Context(), chi.URLParam(r, "id"), player(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}
