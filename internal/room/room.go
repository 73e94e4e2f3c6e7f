// Package room supervises one lobby: who is in the room before the match,
// ready toggles, host-only controls and the start gate. Each supervisor is an
// actor owning its room's membership; mutations go through the store gateway
// and every accepted change is fanned out to the connected clients as a fresh
// snapshot.
package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/bot"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

// DefaultGrace is how long a departed player keeps their seat before the
// lobby evicts them. A rejoin inside the window cancels the eviction.
const DefaultGrace = 30 * time.Second

const minPlayers = 2

type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	PlayerID string
	Username string
	Outbox   chan Snapshot
	Err      chan error
}

type leaveMsg struct{ PlayerID string }

type kickMsg struct {
	HostID   string
	TargetID string
	Err      chan error
}

type toggleReadyMsg struct {
	PlayerID string
	Err      chan error
}

type addBotMsg struct {
	HostID string
	Err    chan error
}

type removeBotMsg struct {
	HostID string
	BotID  string
	Err    chan error
}

type startMsg struct {
	HostID string
	Err    chan error
}

type evictMsg struct {
	PlayerID string
	Gen      int
}

type getViewMsg struct{ Reply chan View }

func (joinMsg) isRoomMsg()        {}
func (leaveMsg) isRoomMsg()       {}
func (kickMsg) isRoomMsg()        {}
func (toggleReadyMsg) isRoomMsg() {}
func (addBotMsg) isRoomMsg()      {}
func (removeBotMsg) isRoomMsg()   {}
func (startMsg) isRoomMsg()       {}
func (evictMsg) isRoomMsg()       {}
func (getViewMsg) isRoomMsg()     {}

// Snapshot is the lobby state pushed to every connected client after each
// accepted change.
type Snapshot struct {
	Room    store.Room
	Members []store.Membership
	Started bool
}

// View adds test-only visibility on top of a snapshot.
type View struct {
	Snapshot
	NumClients int
	Deleted    bool
}

// Supervisor owns one room's lobby lifecycle. All fields below cfg are owned
// by the loop goroutine.
type Supervisor struct {
	store   store.Gateway
	logger  *zap.Logger
	grace   time.Duration
	onStart func(room store.Room)

	inbox    chan roomMsg
	room     store.Room
	clients  map[string]chan Snapshot
	evictGen map[string]int
	started  bool
	deleted  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts a supervisor for an existing room. onStart runs once when the
// host starts the match, after the room status flipped to playing; it is
// where the caller spawns the authoritative game session.
func New(parent context.Context, room store.Room, gw store.Gateway, grace time.Duration, onStart func(store.Room), logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		store:    gw,
		logger:   logger.Named("room").With(zap.String("code", room.Code)),
		grace:    grace,
		onStart:  onStart,
		inbox:    make(chan roomMsg, 64),
		room:     room,
		clients:  make(map[string]chan Snapshot),
		evictGen: make(map[string]int),
		started:  room.Status == store.RoomPlaying,
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.loop()
	return s
}

// Join seats a player (or reseats a returning one) and registers their
// snapshot outbox. The current snapshot is delivered immediately on success.
func (s *Supervisor) Join(playerID, username string, outbox chan Snapshot) error {
	return s.ask(joinMsg{PlayerID: playerID, Username: username, Outbox: outbox, Err: make(chan error, 1)})
}

// Leave drops the client's outbox and arms the eviction grace window.
func (s *Supervisor) Leave(playerID string) {
	select {
	case s.inbox <- leaveMsg{PlayerID: playerID}:
	case <-s.ctx.Done():
	}
}

// Kick removes a player immediately. Host only.
func (s *Supervisor) Kick(hostID, targetID string) error {
	return s.ask(kickMsg{HostID: hostID, TargetID: targetID, Err: make(chan error, 1)})
}

// ToggleReady flips the player's ready flag.
func (s *Supervisor) ToggleReady(playerID string) error {
	return s.ask(toggleReadyMsg{PlayerID: playerID, Err: make(chan error, 1)})
}

// AddBot seats a bot with a fresh id and an unused name. Host only.
func (s *Supervisor) AddBot(hostID string) error {
	return s.ask(addBotMsg{HostID: hostID, Err: make(chan error, 1)})
}

// RemoveBot unseats a bot. Host only.
func (s *Supervisor) RemoveBot(hostID, botID string) error {
	return s.ask(removeBotMsg{HostID: hostID, BotID: botID, Err: make(chan error, 1)})
}

// Start flips the room to playing and fires the onStart hook. Host only,
// and only with enough players seated.
func (s *Supervisor) Start(hostID string) error {
	return s.ask(startMsg{HostID: hostID, Err: make(chan error, 1)})
}

// View snapshots the supervisor for rendering and tests.
func (s *Supervisor) View() View {
	reply := make(chan View, 1)
	select {
	case s.inbox <- getViewMsg{Reply: reply}:
	case <-s.ctx.Done():
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-s.ctx.Done():
		return View{}
	}
}

// Stop tears the supervisor down without deleting the room.
func (s *Supervisor) Stop() {
	s.cancel()
}

// Done is closed when the supervisor has shut down, including after the room
// was deleted for being empty.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Supervisor) ask(m roomMsg) error {
	var reply chan error
	switch msg := m.(type) {
	case joinMsg:
		reply = msg.Err
	case kickMsg:
		reply = msg.Err
	case toggleReadyMsg:
		reply = msg.Err
	case addBotMsg:
		reply = msg.Err
	case removeBotMsg:
		reply = msg.Err
	case startMsg:
		reply = msg.Err
	}
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Supervisor) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case m := <-s.inbox:
			s.handle(m)
			if s.deleted {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Supervisor) handle(m roomMsg) {
	switch msg := m.(type) {
	case joinMsg:
		msg.Err <- s.join(msg)
	case leaveMsg:
		s.leave(msg.PlayerID)
	case kickMsg:
		msg.Err <- s.kick(msg.HostID, msg.TargetID)
	case toggleReadyMsg:
		msg.Err <- s.toggleReady(msg.PlayerID)
	case addBotMsg:
		msg.Err <- s.addBot(msg.HostID)
	case removeBotMsg:
		msg.Err <- s.removeBot(msg.HostID, msg.BotID)
	case startMsg:
		msg.Err <- s.start(msg.HostID)
	case evictMsg:
		s.evict(msg)
	case getViewMsg:
		members, _ := s.members()
		msg.Reply <- View{
			Snapshot:   Snapshot{Room: s.room, Members: members, Started: s.started},
			NumClients: len(s.clients),
			Deleted:    s.deleted,
		}
	}
}

func (s *Supervisor) join(msg joinMsg) error {
	members, err := s.members()
	if err != nil {
		return err
	}
	seated := hasMember(members, msg.PlayerID)

	if s.started && !seated {
		return store.ErrGameStarted
	}
	if !seated {
		if len(members) >= s.room.Settings.MaxPlayers {
			return store.ErrRoomFull
		}
		err := s.store.AddPlayer(s.ctx, store.Membership{
			RoomID:   s.room.ID,
			PlayerID: msg.PlayerID,
			Username: msg.Username,
		})
		if err != nil {
			return err
		}
	}

	// A rejoin inside the grace window cancels the pending eviction.
	s.evictGen[msg.PlayerID]++

	// A nil outbox seats the player without a live client; the snapshot
	// feed starts when they connect.
	if msg.Outbox != nil {
		if old, ok := s.clients[msg.PlayerID]; ok && old != msg.Outbox {
			close(old)
		}
		s.clients[msg.PlayerID] = msg.Outbox
	}
	s.broadcast()
	return nil
}

func (s *Supervisor) leave(playerID string) {
	if ch, ok := s.clients[playerID]; ok {
		close(ch)
		delete(s.clients, playerID)
	}
	if s.started {
		// Mid-match departures are the game session's business, not the
		// lobby's.
		return
	}

	s.evictGen[playerID]++
	gen := s.evictGen[playerID]
	time.AfterFunc(s.grace, func() {
		select {
		case s.inbox <- evictMsg{PlayerID: playerID, Gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Supervisor) evict(msg evictMsg) {
	if msg.Gen != s.evictGen[msg.PlayerID] {
		return
	}
	s.logger.Info("evicting after grace window", zap.String("player", msg.PlayerID))
	s.remove(msg.PlayerID)
}

// remove unseats a player and settles the fallout: host succession, and room
// deletion once no humans remain.
func (s *Supervisor) remove(playerID string) {
	if err := s.store.RemovePlayer(s.ctx, s.room.ID, playerID); err != nil {
		s.logger.Warn("remove player failed", zap.Error(err))
		return
	}
	delete(s.evictGen, playerID)

	members, err := s.members()
	if err != nil {
		s.logger.Warn("list players failed", zap.Error(err))
		return
	}

	humans := 0
	for _, m := range members {
		if !m.IsBot {
			humans++
		}
	}
	if humans == 0 {
		s.logger.Info("room empty, deleting")
		if err := s.store.DeleteRoom(s.ctx, s.room.ID); err != nil {
			s.logger.Warn("delete room failed", zap.Error(err))
		}
		s.deleted = true
		return
	}

	if s.room.HostID == playerID {
		// Host passes to the earliest-seated remaining human.
		var heir *store.Membership
		for i := range members {
			m := &members[i]
			if m.IsBot {
				continue
			}
			if heir == nil || m.JoinedAt.Before(heir.JoinedAt) {
				heir = m
			}
		}
		if err := s.store.TransferHost(s.ctx, s.room.ID, heir.PlayerID); err != nil {
			s.logger.Warn("transfer host failed", zap.Error(err))
		} else {
			s.room.HostID = heir.PlayerID
			s.logger.Info("host transferred", zap.String("host", heir.PlayerID))
		}
	}
	s.broadcast()
}

func (s *Supervisor) kick(hostID, targetID string) error {
	if hostID != s.room.HostID {
		return store.ErrNotHost
	}
	if targetID == s.room.HostID {
		return store.ErrNotHost
	}
	if ch, ok := s.clients[targetID]; ok {
		close(ch)
		delete(s.clients, targetID)
	}
	s.evictGen[targetID]++
	s.remove(targetID)
	return nil
}

func (s *Supervisor) toggleReady(playerID string) error {
	members, err := s.members()
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.PlayerID == playerID {
			if err := s.store.SetReady(s.ctx, s.room.ID, playerID, !m.IsReady); err != nil {
				return err
			}
			s.broadcast()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Supervisor) addBot(hostID string) error {
	if hostID != s.room.HostID {
		return store.ErrNotHost
	}
	members, err := s.members()
	if err != nil {
		return err
	}
	if len(members) >= s.room.Settings.MaxPlayers {
		return store.ErrRoomFull
	}

	used := make([]string, 0, len(members))
	for _, m := range members {
		used = append(used, m.Username)
	}
	err = s.store.AddPlayer(s.ctx, store.Membership{
		RoomID:   s.room.ID,
		PlayerID: bot.NewID(),
		Username: bot.PickName(used),
		IsReady:  true,
		IsBot:    true,
	})
	if err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Supervisor) removeBot(hostID, botID string) error {
	if hostID != s.room.HostID {
		return store.ErrNotHost
	}
	members, err := s.members()
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.PlayerID == botID {
			if !m.IsBot {
				return store.ErrNotFound
			}
			if err := s.store.RemovePlayer(s.ctx, s.room.ID, botID); err != nil {
				return err
			}
			s.broadcast()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Supervisor) start(hostID string) error {
	if hostID != s.room.HostID {
		return store.ErrNotHost
	}
	if s.started {
		return store.ErrGameStarted
	}
	members, err := s.members()
	if err != nil {
		return err
	}
	if len(members) < minPlayers {
		return store.ErrTooFewPlayers
	}

	if err := s.store.UpdateRoomStatus(s.ctx, s.room.ID, store.RoomPlaying); err != nil {
		return err
	}
	s.room.Status = store.RoomPlaying
	s.started = true
	s.logger.Info("match starting", zap.Int("players", len(members)))
	s.broadcast()

	if s.onStart != nil {
		s.onStart(s.room)
	}
	return nil
}

func (s *Supervisor) members() ([]store.Membership, error) {
	return s.store.ListPlayers(s.ctx, s.room.ID)
}

func (s *Supervisor) broadcast() {
	members, err := s.members()
	if err != nil {
		s.logger.Warn("list players failed", zap.Error(err))
		return
	}
	snap := Snapshot{Room: s.room, Members: members, Started: s.started}
	for id, ch := range s.clients {
		select {
		case ch <- snap:
		default:
			// Slow client, drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Supervisor) shutdown() {
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func hasMember(members []store.Membership, playerID string) bool {
	for _, m := range members {
		if m.PlayerID == playerID {
			return true
		}
	}
	return false
}
