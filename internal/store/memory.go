package store

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okalkan/liars-dice-backend/internal/dice"
	"github.com/okalkan/liars-dice-backend/internal/game"
)

// Memory is an in-process Gateway. It backs tests and DATABASE_URL-less dev
// runs; semantics match the Postgres implementation.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	members  map[string][]Membership // per room, join order
	sessions map[string]*game.State
	chat     map[string][]game.ChatMessage
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*Room),
		members:  make(map[string][]Membership),
		sessions: make(map[string]*game.State),
		chat:     make(map[string][]game.ChatMessage),
	}
}

var _ Gateway = (*Memory)(nil)

func (m *Memory) CreateRoom(ctx context.Context, hostID, username string, settings game.Settings) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}

	room := &Room{
		ID:        uuid.NewString(),
		Code:      code,
		HostID:    hostID,
		Settings:  settings,
		Status:    RoomWaiting,
		CreatedAt: time.Now(),
	}
	m.rooms[room.ID] = room
	m.members[room.ID] = []Membership{{
		RoomID:   room.ID,
		PlayerID: hostID,
		Username: username,
		JoinedAt: time.Now(),
	}}

	out := *room
	return &out, nil
}

func (m *Memory) uniqueCodeLocked() (string, error) {
	for i := 0; i < 10; i++ {
		code, err := dice.GenerateRoomCode(dice.RoomCodeLength)
		if err != nil {
			return "", err
		}
		taken := false
		for _, r := range m.rooms {
			if r.Code == code {
				taken = true
				break
			}
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

func (m *Memory) FetchRoom(ctx context.Context, roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *room
	return &out, nil
}

func (m *Memory) FetchRoomByCode(ctx context.Context, code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		if room.Code == code {
			out := *room
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListOpenRooms(ctx context.Context) ([]RoomListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RoomListing
	for _, room := range m.rooms {
		if room.Status != RoomWaiting {
			continue
		}
		listing := RoomListing{Room: *room, PlayerCount: len(m.members[room.ID])}
		for _, mem := range m.members[room.ID] {
			if mem.PlayerID == room.HostID {
				listing.HostUsername = mem.Username
				break
			}
		}
		out = append(out, listing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.Status = status
	return nil
}

func (m *Memory) TransferHost(ctx context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.HostID = playerID
	return nil
}

func (m *Memory) DeleteRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, roomID)
	delete(m.members, roomID)
	delete(m.sessions, roomID)
	delete(m.chat, roomID)
	return nil
}

func (m *Memory) AddPlayer(ctx context.Context, mem Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[mem.RoomID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.members[mem.RoomID] {
		if existing.PlayerID == mem.PlayerID {
			// One membership per (room, player); a re-join is a no-op.
			return nil
		}
	}
	if mem.JoinedAt.IsZero() {
		mem.JoinedAt = time.Now()
	}
	m.members[mem.RoomID] = append(m.members[mem.RoomID], mem)
	return nil
}

func (m *Memory) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.members[roomID]
	for i, mem := range members {
		if mem.PlayerID == playerID {
			m.members[roomID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListPlayers(ctx context.Context, roomID string) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Membership(nil), m.members[roomID]...), nil
}

func (m *Memory) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.members[roomID]
	for i := range members {
		if members[i].PlayerID == playerID {
			members[i].IsReady = ready
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateGameSession(ctx context.Context, room *Room) (*game.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.members[room.ID]
	if len(members) == 0 {
		return nil, ErrTooFewPlayers
	}

	state := buildInitialState(room, members)
	m.sessions[room.ID] = &state

	out := state.Clone()
	return &out, nil
}

func (m *Memory) FetchGameSession(ctx context.Context, roomID string) (*game.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := state.Clone()
	return &out, nil
}

func (m *Memory) UpdateGameSession(ctx context.Context, roomID string, upd SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[roomID]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(state, upd)
	return nil
}

func (m *Memory) SaveChatMessage(ctx context.Context, msg game.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chat[msg.RoomID] = append(m.chat[msg.RoomID], msg)
	return nil
}

func (m *Memory) ChatHistory(ctx context.Context, roomID string, limit int) ([]game.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.chat[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]game.ChatMessage(nil), msgs...), nil
}

// buildInitialState shuffles the seating once and deals every seat its
// starting dice count. Dice values are never stored; each participant rolls
// its own.
func buildInitialState(room *Room, members []Membership) game.State {
	shuffled := append([]Membership(nil), members...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	players := make([]game.GamePlayer, len(shuffled))
	order := make([]string, len(shuffled))
	for i, mem := range shuffled {
		players[i] = game.GamePlayer{
			ID:        mem.PlayerID,
			Username:  mem.Username,
			DiceCount: room.Settings.StartingDice,
			IsBot:     mem.IsBot,
		}
		order[i] = mem.PlayerID
	}

	return game.State{
		RoomCode:            room.Code,
		Players:             players,
		CurrentTurnPlayerID: order[0],
		Round:               1,
		Status:              game.StatusActive,
		Settings:            room.Settings,
		TurnOrder:           order,
	}
}

func applyUpdate(state *game.State, upd SessionUpdate) {
	if upd.Players != nil {
		state.Players = append([]game.GamePlayer(nil), upd.Players...)
	}
	if upd.CurrentTurn != nil {
		state.CurrentTurnPlayerID = *upd.CurrentTurn
	}
	if upd.Round != nil {
		state.Round = *upd.Round
	}
	if upd.ClearLastBid {
		state.LastBid = nil
	} else if upd.LastBid != nil {
		bid := *upd.LastBid
		state.LastBid = &bid
	}
	if upd.Status != nil {
		state.Status = *upd.Status
	}
	if upd.WinnerID != nil {
		state.WinnerID = *upd.WinnerID
	}
}
