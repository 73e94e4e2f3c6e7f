// Package channel is the realtime transport boundary: per-room broadcast of
// typed events plus presence tracking with a grace window before a
// disconnect is declared. Delivery is at-least-once and best-effort ordered;
// consumers are expected to apply events idempotently.
package channel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/game"
)

// DefaultGrace is how long a departed member may rejoin before the room
// declares them disconnected.
const DefaultGrace = 30 * time.Second

// PresenceType tags a presence notification.
type PresenceType string

const (
	PresenceJoin  PresenceType = "join"
	PresenceLeave PresenceType = "leave"
	// PresenceTimeout fires once the grace window elapses without a rejoin.
	PresenceTimeout PresenceType = "timeout"
)

// Presence is a membership notification delivered alongside the event
// stream.
type Presence struct {
	PlayerID string
	Type     PresenceType
}

// Subscription is one participant's receive side of the room channel.
type Subscription struct {
	PlayerID string
	Events   <-chan game.Event
	Presence <-chan Presence
}

type roomMsg interface{ isRoomMsg() }

type subscribe struct {
	PlayerID string
	Events   chan game.Event
	Presence chan Presence
	Reply    chan Subscription
}

type unsubscribe struct{ PlayerID string }

type publish struct{ Event game.Event }

type graceExpired struct {
	PlayerID string
	Gen      int
}

type shutdown struct{}

func (subscribe) isRoomMsg()    {}
func (unsubscribe) isRoomMsg()  {}
func (publish) isRoomMsg()      {}
func (graceExpired) isRoomMsg() {}
func (shutdown) isRoomMsg()     {}

type member struct {
	events   chan game.Event
	presence chan Presence
}

// Room fans typed events out to every subscriber, the sender included, and
// tracks presence keyed by player id. One goroutine owns all state.
type Room struct {
	code    string
	inbox   chan roomMsg
	members map[string]*member
	pending map[string]int // player id -> grace generation
	nextGen int
	grace   time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRoom starts a room channel. grace <= 0 falls back to DefaultGrace.
func NewRoom(parent context.Context, code string, grace time.Duration, logger *zap.Logger) *Room {
	if grace <= 0 {
		grace = DefaultGrace
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:    code,
		inbox:   make(chan roomMsg, 64),
		members: make(map[string]*member),
		pending: make(map[string]int),
		grace:   grace,
		logger:  logger.Named("channel").With(zap.String("room", code)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

// Code is the room code this channel serves.
func (r *Room) Code() string { return r.code }

// Subscribe registers a participant and returns its receive channels.
// Rejoining within the grace window cancels the pending disconnect.
func (r *Room) Subscribe(playerID string) Subscription {
	reply := make(chan Subscription, 1)
	r.send(subscribe{
		PlayerID: playerID,
		Events:   make(chan game.Event, 64),
		Presence: make(chan Presence, 16),
		Reply:    reply,
	})
	select {
	case sub := <-reply:
		return sub
	case <-r.ctx.Done():
		return Subscription{PlayerID: playerID}
	}
}

// Unsubscribe releases presence immediately and starts the grace window.
func (r *Room) Unsubscribe(playerID string) {
	r.send(unsubscribe{PlayerID: playerID})
}

// Publish broadcasts an event to every subscriber, including the sender.
func (r *Room) Publish(ev game.Event) {
	r.send(publish{Event: ev})
}

// Close tears the channel down and closes every subscriber.
func (r *Room) Close() {
	r.send(shutdown{})
}

func (r *Room) send(m roomMsg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case subscribe:
				if gen, ok := r.pending[msg.PlayerID]; ok {
					// Rejoined inside the grace window: the pending
					// disconnect is void.
					delete(r.pending, msg.PlayerID)
					r.logger.Debug("rejoin cancelled pending disconnect",
						zap.String("player", msg.PlayerID), zap.Int("gen", gen))
				}
				if old, ok := r.members[msg.PlayerID]; ok {
					close(old.events)
					close(old.presence)
				}
				r.members[msg.PlayerID] = &member{events: msg.Events, presence: msg.Presence}
				r.notifyPresence(Presence{PlayerID: msg.PlayerID, Type: PresenceJoin}, msg.PlayerID)
				msg.Reply <- Subscription{PlayerID: msg.PlayerID, Events: msg.Events, Presence: msg.Presence}

			case unsubscribe:
				r.dropMember(msg.PlayerID)

			case publish:
				for id, mem := range r.members {
					select {
					case mem.events <- msg.Event:
					default:
						// Subscriber stopped draining; drop it like any
						// other departure.
						r.logger.Warn("dropping slow subscriber", zap.String("player", id))
						r.dropMember(id)
					}
				}

			case graceExpired:
				if gen, ok := r.pending[msg.PlayerID]; ok && gen == msg.Gen {
					delete(r.pending, msg.PlayerID)
					r.notifyPresence(Presence{PlayerID: msg.PlayerID, Type: PresenceTimeout}, msg.PlayerID)
				}

			case shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) dropMember(playerID string) {
	mem, ok := r.members[playerID]
	if !ok {
		return
	}
	close(mem.events)
	close(mem.presence)
	delete(r.members, playerID)

	r.notifyPresence(Presence{PlayerID: playerID, Type: PresenceLeave}, playerID)

	r.nextGen++
	gen := r.nextGen
	r.pending[playerID] = gen
	time.AfterFunc(r.grace, func() {
		r.send(graceExpired{PlayerID: playerID, Gen: gen})
	})
}

// notifyPresence delivers to everyone except the subject. Presence channels
// are best-effort: a full one is skipped, not fatal.
func (r *Room) notifyPresence(p Presence, except string) {
	for id, mem := range r.members {
		if id == except {
			continue
		}
		select {
		case mem.presence <- p:
		default:
		}
	}
}

func (r *Room) shutdown() {
	for id, mem := range r.members {
		close(mem.events)
		close(mem.presence)
		delete(r.members, id)
	}
	r.cancel()
}
