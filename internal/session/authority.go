package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/dice"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

// Authority is the capability to perform the single-writer side of the
// protocol: persisting session state and resolving transitions that need a
// tie-break. Exactly one participant per match holds it; everyone else only
// submits intents and applies received events.
type Authority struct {
	RoomID string
	Store  store.Gateway
}

// NewAuthority binds the capability to a room's persisted records.
func NewAuthority(roomID string, gw store.Gateway) *Authority {
	return &Authority{RoomID: roomID, Store: gw}
}

// Persistence writes are best-effort side effects: a failure is logged and
// never rolls back or blocks the broadcast that already went out.

func (a *Authority) persistTurn(logger *zap.Logger, bid dice.Bid, nextTurn string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Store.UpdateGameSession(ctx, a.RoomID, store.SessionUpdate{
		LastBid:     &bid,
		CurrentTurn: &nextTurn,
	})
	if err != nil {
		logger.Warn("persist turn failed", zap.Error(err))
	}
}

func (a *Authority) persistSkip(logger *zap.Logger, nextTurn string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Store.UpdateGameSession(ctx, a.RoomID, store.SessionUpdate{CurrentTurn: &nextTurn})
	if err != nil {
		logger.Warn("persist skip failed", zap.Error(err))
	}
}

func (a *Authority) persistNewRound(logger *zap.Logger, state *game.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := state.Status
	err := a.Store.UpdateGameSession(ctx, a.RoomID, store.SessionUpdate{
		Players:      state.Players,
		CurrentTurn:  &state.CurrentTurnPlayerID,
		Round:        &state.Round,
		ClearLastBid: true,
		Status:       &status,
	})
	if err != nil {
		logger.Warn("persist new round failed", zap.Error(err))
	}
}

func (a *Authority) persistFinish(logger *zap.Logger, state *game.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := state.Status
	err := a.Store.UpdateGameSession(ctx, a.RoomID, store.SessionUpdate{
		Players:  state.Players,
		Status:   &status,
		WinnerID: &state.WinnerID,
	})
	if err != nil {
		logger.Warn("persist finish failed", zap.Error(err))
	}
	if err := a.Store.UpdateRoomStatus(ctx, a.RoomID, store.RoomFinished); err != nil {
		logger.Warn("finish room failed", zap.Error(err))
	}
}
