// Package httpapi is the HTTP surface: room CRUD, lobby controls, chat and
// the websocket upgrade. It also owns the per-room runtime wiring, binding a
// lobby supervisor, a broadcast channel and (once the match starts) the
// authoritative game session together under the room's code.
package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/chat"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/room"
	"github.com/okalkan/liars-dice-backend/internal/session"
	"github.com/okalkan/liars-dice-backend/internal/store"
	"github.com/okalkan/liars-dice-backend/internal/ws"
)

var (
	errForbidden   = errors.New("event not allowed from this client")
	errUnsupported = errors.New("unsupported event type")
)

// Server carries the dependencies every handler needs plus the registry of
// live rooms.
type Server struct {
	store   store.Gateway
	chat    *chat.Service
	hub     *channel.Hub
	grace   time.Duration
	timings session.Timings
	logger  *zap.Logger

	mu    sync.Mutex
	rooms map[string]*roomEntry // by room code
	ctx   context.Context
}

// roomEntry is one live room's runtime: the lobby supervisor, the broadcast
// channel and, after start, the authoritative session driving persistence,
// timeouts and bots.
type roomEntry struct {
	room      store.Room
	sup       *room.Supervisor
	ch        *channel.Room
	authority *session.Session
}

// NewServer builds the handler dependencies. ctx bounds the lifetime of every
// room runtime the server spawns.
func NewServer(ctx context.Context, gw store.Gateway, hub *channel.Hub, chatSvc *chat.Service, grace time.Duration, timings session.Timings, logger *zap.Logger) *Server {
	return &Server{
		store:   gw,
		chat:    chatSvc,
		hub:     hub,
		grace:   grace,
		timings: timings,
		logger:  logger.Named("httpapi"),
		rooms:   make(map[string]*roomEntry),
		ctx:     ctx,
	}
}

// entry returns the live runtime for a room, reviving it from the store when
// the server has no record in memory (first touch, or a restart). A revived
// playing room gets its authority back immediately so the match resumes from
// the persisted snapshot.
func (s *Server) entry(ctx context.Context, code string) (*roomEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.rooms[code]; ok {
		return e, nil
	}

	rm, err := s.store.FetchRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rm.Status == store.RoomFinished {
		return nil, store.ErrNotFound
	}

	e := s.registerLocked(*rm)
	if rm.Status == store.RoomPlaying && e.authority == nil {
		e.authority = s.spawnAuthority(*rm, e.ch)
	}
	return e, nil
}

// register wires the runtime for a freshly created room.
func (s *Server) register(rm store.Room) *roomEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(rm)
}

func (s *Server) registerLocked(rm store.Room) *roomEntry {
	if e, ok := s.rooms[rm.Code]; ok {
		return e
	}

	e := &roomEntry{room: rm, ch: s.hub.Ensure(rm.Code)}
	e.sup = room.New(s.ctx, rm, s.store, s.grace, func(started store.Room) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.authority == nil {
			e.authority = s.spawnAuthority(started, e.ch)
		}
	}, s.logger)
	s.rooms[rm.Code] = e

	// Reap the runtime when the supervisor shuts down (room emptied out).
	go func() {
		<-e.sup.Done()
		s.mu.Lock()
		if s.rooms[rm.Code] == e {
			delete(s.rooms, rm.Code)
		}
		authority := e.authority
		s.mu.Unlock()
		if authority != nil {
			authority.Stop()
		}
		s.hub.Remove(rm.Code)
	}()
	return e
}

func (s *Server) spawnAuthority(rm store.Room, ch *channel.Room) *session.Session {
	return session.New(s.ctx, session.Config{
		RoomID:   rm.ID,
		RoomCode: rm.Code,
		Room:     ch,
		Store:    s.store,
		Auth:     session.NewAuthority(rm.ID, s.store),
		Logger:   s.logger,
		Timings:  s.timings,
	})
}

// Bind implements ws.RoomBinder: seat the player, subscribe them to the
// broadcast channel and hand the connection its inbound policy.
func (s *Server) Bind(ctx context.Context, code, playerID, username string) (*ws.Binding, error) {
	e, err := s.entry(ctx, code)
	if err != nil {
		return nil, err
	}

	lobbyBox := make(chan room.Snapshot, 8)
	if err := e.sup.Join(playerID, username, lobbyBox); err != nil {
		return nil, err
	}
	sub := e.ch.Subscribe(playerID)

	return &ws.Binding{
		Sub:     sub,
		Lobby:   lobbyBox,
		Inbound: s.inbound(e, playerID, username),
		Close: func() {
			e.sup.Leave(playerID)
			e.ch.Unsubscribe(playerID)
		},
	}, nil
}

// inbound is the relay policy for client-originated events. The server does
// not re-validate game rules (every participant validates, the authority
// resolves); it only refuses events a client cannot legitimately send at all.
func (s *Server) inbound(e *roomEntry, playerID, username string) func(game.Event) error {
	return func(ev game.Event) error {
		switch msg := ev.(type) {
		case game.BidMade:
			if msg.IsSkip() || msg.Bid.PlayerID != playerID {
				return errForbidden
			}
			e.ch.Publish(msg)

		case game.LiarCalled:
			if msg.CallerID != playerID {
				return errForbidden
			}
			e.ch.Publish(msg)

		case game.DiceRevealed:
			// A client may only ever reveal its own dice.
			for _, p := range msg.Players {
				if p.ID != playerID {
					return errForbidden
				}
			}
			e.ch.Publish(msg)

		case game.ChatMessage:
			_, err := s.chat.Send(s.ctx, e.ch, e.room.ID, playerID, username, msg.Message)
			return err

		default:
			return errUnsupported
		}
		return nil
	}
}
