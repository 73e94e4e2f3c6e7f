package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

func setup(t *testing.T, ctx context.Context, gw store.Gateway) (*Service, *channel.Room, string, channel.Subscription) {
	t.Helper()
	if gw == nil {
		gw = store.NewMemory()
	}
	room, err := gw.CreateRoom(ctx, "host", "Alice", game.Settings{MaxPlayers: 8, StartingDice: 5})
	require.NoError(t, err)

	ch := channel.NewRoom(ctx, room.Code, time.Second, zap.NewNop())
	sub := ch.Subscribe("host")
	return NewService(gw, zap.NewNop()), ch, room.ID, sub
}

func recvChat(t *testing.T, sub channel.Subscription) game.ChatMessage {
	t.Helper()
	select {
	case ev := <-sub.Events:
		msg, ok := ev.(game.ChatMessage)
		require.True(t, ok, "expected a chat message, got %T", ev)
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat message")
		return game.ChatMessage{}
	}
}

func TestSend_BroadcastsAndPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := store.NewMemory()
	svc, ch, roomID, sub := setup(t, ctx, gw)

	sent, err := svc.Send(ctx, ch, roomID, "host", "Alice", "  arr, three fives  ")
	require.NoError(t, err)
	assert.Equal(t, "arr, three fives", sent.Message)
	assert.NotEmpty(t, sent.ID)
	assert.False(t, sent.IsSystem)

	got := recvChat(t, sub)
	assert.Equal(t, sent.ID, got.ID)

	history, err := svc.History(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "arr, three fives", history[0].Message)
}

func TestSend_Validation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, ch, roomID, sub := setup(t, ctx, nil)

	_, err := svc.Send(ctx, ch, roomID, "host", "Alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := strings.Repeat("x", MaxMessageLength+50)
	sent, err := svc.Send(ctx, ch, roomID, "host", "Alice", long)
	require.NoError(t, err)
	assert.Len(t, sent.Message, MaxMessageLength)
	assert.Equal(t, MaxMessageLength, len(recvChat(t, sub).Message))
}

func TestSend_TruncatesOnRuneBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, ch, roomID, sub := setup(t, ctx, nil)

	long := strings.Repeat("ö", MaxMessageLength+10)
	sent, err := svc.Send(ctx, ch, roomID, "host", "Alice", long)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(sent.Message), "truncation must not split a rune")
	assert.Equal(t, MaxMessageLength, utf8.RuneCountInString(sent.Message))
	assert.Equal(t, sent.Message, recvChat(t, sub).Message)
}

func TestSendSystem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, ch, roomID, sub := setup(t, ctx, nil)

	sent, err := svc.SendSystem(ctx, ch, roomID, "Bob joined the room")
	require.NoError(t, err)
	assert.True(t, sent.IsSystem)
	assert.Equal(t, "System", sent.Username)
	assert.Empty(t, sent.PlayerID)

	got := recvChat(t, sub)
	assert.True(t, got.IsSystem)
}

type flakyGateway struct {
	store.Gateway
	saveErr error
}

func (f *flakyGateway) SaveChatMessage(ctx context.Context, msg game.ChatMessage) error {
	return f.saveErr
}

func TestSend_PersistenceFailureIsSwallowed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &flakyGateway{Gateway: store.NewMemory(), saveErr: errors.New("db down")}
	svc, ch, roomID, sub := setup(t, ctx, gw)

	sent, err := svc.Send(ctx, ch, roomID, "host", "Alice", "still here?")
	require.NoError(t, err, "delivery must not depend on persistence")
	assert.Equal(t, sent.ID, recvChat(t, sub).ID)
}
