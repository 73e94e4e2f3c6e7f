// Package store is the persistence gateway: durable room, membership, game
// session and chat records. The Gateway interface is the collaborator
// boundary; Postgres (gorm) backs it in production and Memory backs it in
// tests and single-node dev runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/okalkan/liars-dice-backend/internal/dice"
	"github.com/okalkan/liars-dice-backend/internal/game"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRoomFull      = errors.New("room is full")
	ErrGameStarted   = errors.New("game already started")
	ErrNotHost       = errors.New("only the host may do that")
	ErrTooFewPlayers = errors.New("not enough players")
	ErrCodeExhausted = errors.New("could not generate a unique room code")
)

// RoomStatus is the room lifecycle.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

// Room is the durable lobby record.
type Room struct {
	ID        string
	Code      string
	HostID    string
	Settings  game.Settings
	Status    RoomStatus
	CreatedAt time.Time
}

// Membership is one player's seat in a room, unique per (room, player).
type Membership struct {
	RoomID   string
	PlayerID string
	Username string
	IsReady  bool
	IsBot    bool
	JoinedAt time.Time
}

// RoomListing is a lobby-browser row: the room plus derived display fields.
type RoomListing struct {
	Room
	PlayerCount  int
	HostUsername string
}

// SessionUpdate is a partial write against the game session row. Nil fields
// are left untouched; ClearLastBid distinguishes "set to null" from "leave
// alone".
type SessionUpdate struct {
	Players      []game.GamePlayer
	CurrentTurn  *string
	Round        *int
	LastBid      *dice.Bid
	ClearLastBid bool
	Status       *game.Status
	WinnerID     *string
}

// Gateway is the full persistence surface the game consumes.
type Gateway interface {
	// Rooms
	CreateRoom(ctx context.Context, hostID, username string, settings game.Settings) (*Room, error)
	FetchRoom(ctx context.Context, roomID string) (*Room, error)
	FetchRoomByCode(ctx context.Context, code string) (*Room, error)
	ListOpenRooms(ctx context.Context) ([]RoomListing, error)
	UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus) error
	TransferHost(ctx context.Context, roomID, playerID string) error
	DeleteRoom(ctx context.Context, roomID string) error

	// Memberships
	AddPlayer(ctx context.Context, m Membership) error
	RemovePlayer(ctx context.Context, roomID, playerID string) error
	ListPlayers(ctx context.Context, roomID string) ([]Membership, error)
	SetReady(ctx context.Context, roomID, playerID string, ready bool) error

	// Game sessions
	CreateGameSession(ctx context.Context, room *Room) (*game.State, error)
	FetchGameSession(ctx context.Context, roomID string) (*game.State, error)
	UpdateGameSession(ctx context.Context, roomID string, upd SessionUpdate) error

	// Chat
	SaveChatMessage(ctx context.Context, msg game.ChatMessage) error
	ChatHistory(ctx context.Context, roomID string, limit int) ([]game.ChatMessage, error)
}
