package channel

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type hubMsg interface{ isHubMsg() }

type ensureRoom struct {
	Code  string
	Reply chan *Room
}

type getRoom struct {
	Code  string
	Reply chan *Room
}

type removeRoom struct{ Code string }

type shutdownHub struct{}

func (ensureRoom) isHubMsg()  {}
func (getRoom) isHubMsg()     {}
func (removeRoom) isHubMsg()  {}
func (shutdownHub) isHubMsg() {}

// Hub owns the registry of live room channels, keyed by room code.
type Hub struct {
	inbox  chan hubMsg
	rooms  map[string]*Room
	grace  time.Duration
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub starts the registry actor. grace applies to every room it creates.
func NewHub(parent context.Context, grace time.Duration, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan hubMsg, 64),
		rooms:  make(map[string]*Room),
		grace:  grace,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

// Ensure returns the channel for code, creating it if needed.
func (h *Hub) Ensure(code string) *Room {
	reply := make(chan *Room, 1)
	select {
	case h.inbox <- ensureRoom{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case room := <-reply:
		return room
	case <-h.ctx.Done():
		return nil
	}
}

// Get returns the channel for code, or nil.
func (h *Hub) Get(code string) *Room {
	reply := make(chan *Room, 1)
	select {
	case h.inbox <- getRoom{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case room := <-reply:
		return room
	case <-h.ctx.Done():
		return nil
	}
}

// Remove closes and forgets the channel for code.
func (h *Hub) Remove(code string) {
	select {
	case h.inbox <- removeRoom{Code: code}:
	case <-h.ctx.Done():
	}
}

// Shutdown closes every room channel.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- shutdownHub{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case ensureRoom:
				room := h.rooms[msg.Code]
				if room == nil {
					room = NewRoom(h.ctx, msg.Code, h.grace, h.logger)
					h.rooms[msg.Code] = room
					h.logger.Debug("room channel created", zap.String("room", msg.Code))
				}
				msg.Reply <- room

			case getRoom:
				msg.Reply <- h.rooms[msg.Code] // may be nil

			case removeRoom:
				if room := h.rooms[msg.Code]; room != nil {
					room.Close()
					delete(h.rooms, msg.Code)
				}

			case shutdownHub:
				for code, room := range h.rooms {
					room.Close()
					delete(h.rooms, code)
				}
				h.cancel()
			}
		}
	}
}
