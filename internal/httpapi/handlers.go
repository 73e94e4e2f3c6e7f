package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/chat"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

type roomJSON struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	HostID    string        `json:"hostId"`
	Status    string        `json:"status"`
	Settings  game.Settings `json:"settings"`
	CreatedAt time.Time     `json:"createdAt"`
}

type memberJSON struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	IsReady  bool   `json:"isReady"`
	IsBot    bool   `json:"isBot"`
}

type listingJSON struct {
	Code         string `json:"code"`
	HostUsername string `json:"hostUsername"`
	PlayerCount  int    `json:"playerCount"`
	MaxPlayers   int    `json:"maxPlayers"`
}

func toRoomJSON(r store.Room) roomJSON {
	return roomJSON{
		ID:        r.ID,
		Code:      r.Code,
		HostID:    r.HostID,
		Status:    string(r.Status),
		Settings:  r.Settings,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Username string `json:"username"`
		Settings struct {
			JokerRule    *bool `json:"jokerRule"`
			StartingDice *int  `json:"startingDice"`
			TurnTimer    *int  `json:"turnTimer"`
			MaxPlayers   *int  `json:"maxPlayers"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" || req.Username == "" {
		http.Error(w, "playerId and username required", http.StatusBadRequest)
		return
	}

	settings := game.DefaultSettings()
	if req.Settings.JokerRule != nil {
		settings.JokerRule = *req.Settings.JokerRule
	}
	if req.Settings.StartingDice != nil {
		settings.StartingDice = *req.Settings.StartingDice
	}
	if req.Settings.TurnTimer != nil {
		settings.TurnTimer = *req.Settings.TurnTimer
	}
	if req.Settings.MaxPlayers != nil {
		settings.MaxPlayers = *req.Settings.MaxPlayers
	}

	rm, err := s.store.CreateRoom(r.Context(), req.PlayerID, req.Username, settings)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.register(*rm)
	s.logger.Info("room created", zap.String("code", rm.Code), zap.String("host", req.PlayerID))
	s.respond(w, http.StatusCreated, toRoomJSON(*rm))
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" || req.Username == "" {
		http.Error(w, "playerId and username required", http.StatusBadRequest)
		return
	}

	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	// Seat only; the snapshot feed starts on the websocket connect.
	if err := e.sup.Join(req.PlayerID, req.Username, nil); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRoomJSON(e.room))
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListOpenRooms(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingJSON{
			Code:         l.Code,
			HostUsername: l.HostUsername,
			PlayerCount:  l.PlayerCount,
			MaxPlayers:   l.Settings.MaxPlayers,
		})
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	members, err := s.store.ListPlayers(r.Context(), e.room.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	out := struct {
		roomJSON
		Members []memberJSON `json:"members"`
	}{roomJSON: toRoomJSON(e.room)}
	for _, m := range members {
		out.Members = append(out.Members, memberJSON{
			PlayerID: m.PlayerID, Username: m.Username, IsReady: m.IsReady, IsBot: m.IsBot,
		})
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) toggleReady(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, func(e *roomEntry, playerID, _ string) error {
		return e.sup.ToggleReady(playerID)
	})
}

func (s *Server) startGame(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, func(e *roomEntry, playerID, _ string) error {
		return e.sup.Start(playerID)
	})
}

func (s *Server) addBot(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, func(e *roomEntry, playerID, _ string) error {
		return e.sup.AddBot(playerID)
	})
}

func (s *Server) kickPlayer(w http.ResponseWriter, r *http.Request) {
	s.lobbyAction(w, r, func(e *roomEntry, playerID, targetID string) error {
		if targetID == "" {
			return errUnsupported
		}
		return e.sup.Kick(playerID, targetID)
	})
}

func (s *Server) removeBot(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		http.Error(w, "player required", http.StatusBadRequest)
		return
	}
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := e.sup.RemoveBot(playerID, chi.URLParam(r, "botId")); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// lobbyAction factors the {playerId[, targetId]} body + supervisor call shape
// shared by the host-control endpoints.
func (s *Server) lobbyAction(w http.ResponseWriter, r *http.Request, fn func(e *roomEntry, playerID, targetID string) error) {
	var req struct {
		PlayerID string `json:"playerId"`
		TargetID string `json:"targetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		http.Error(w, "playerId required", http.StatusBadRequest)
		return
	}
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := fn(e, req.PlayerID, req.TargetID); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		http.Error(w, "playerId required", http.StatusBadRequest)
		return
	}
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	msg, err := s.chat.Send(r.Context(), e.ch, e.room.ID, req.PlayerID, req.Username, req.Message)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusCreated, msg)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	history, err := s.chat.History(r.Context(), e.room.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if history == nil {
		history = []game.ChatMessage{}
	}
	s.respond(w, http.StatusOK, history)
}

// sessionSnapshot serves the persisted game state for reconnect recovery.
// Hands are never part of it; a recovering client rerolls its own dice.
func (s *Server) sessionSnapshot(w http.ResponseWriter, r *http.Request) {
	e, err := s.entry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	state, err := s.store.FetchGameSession(r.Context(), e.room.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	state.Settings = e.room.Settings
	s.respond(w, http.StatusOK, state)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrNotHost):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrRoomFull),
		errors.Is(err, store.ErrGameStarted),
		errors.Is(err, store.ErrTooFewPlayers):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, errForbidden), errors.Is(err, errUnsupported):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
