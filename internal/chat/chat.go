// Package chat delivers room chat. Messages ride the same broadcast channel
// as game events but never touch the state machine; persistence is a
// best-effort side effect behind the delivery.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

const (
	// MaxMessageLength is the cap a message body is truncated to.
	MaxMessageLength = 200
	// HistoryLimit is how many recent messages a history fetch returns.
	HistoryLimit = 50
)

var ErrEmptyMessage = errors.New("empty chat message")

// Service sends and fetches chat for any room.
type Service struct {
	store  store.Gateway
	logger *zap.Logger
}

func NewService(gw store.Gateway, logger *zap.Logger) *Service {
	return &Service{store: gw, logger: logger.Named("chat")}
}

// Send broadcasts a player message to the room, then persists it. A failed
// write is logged and swallowed: everyone already saw the message.
func (s *Service) Send(ctx context.Context, room *channel.Room, roomID, playerID, username, text string) (game.ChatMessage, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return game.ChatMessage{}, ErrEmptyMessage
	}
	body = truncate(body, MaxMessageLength)

	msg := game.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		PlayerID:  playerID,
		Username:  username,
		Message:   body,
		CreatedAt: time.Now(),
	}
	room.Publish(msg)

	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		s.logger.Warn("save chat message failed",
			zap.String("room", roomID), zap.Error(err))
	}
	return msg, nil
}

// SendSystem broadcasts a host announcement (joins, leaves, round results).
func (s *Service) SendSystem(ctx context.Context, room *channel.Room, roomID, text string) (game.ChatMessage, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return game.ChatMessage{}, ErrEmptyMessage
	}

	msg := game.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  "System",
		Message:   body,
		IsSystem:  true,
		CreatedAt: time.Now(),
	}
	room.Publish(msg)

	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		s.logger.Warn("save system message failed",
			zap.String("room", roomID), zap.Error(err))
	}
	return msg, nil
}

// History returns the room's most recent messages, oldest first.
func (s *Service) History(ctx context.Context, roomID string) ([]game.ChatMessage, error) {
	return s.store.ChatHistory(ctx, roomID, HistoryLimit)
}

// truncate caps a message at limit characters, never splitting a rune.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
