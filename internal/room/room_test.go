package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

func testSettings() game.Settings {
	return game.Settings{JokerRule: true, StartingDice: 5, TurnTimer: 30, MaxPlayers: 4}
}

func newLobby(t *testing.T, ctx context.Context, grace time.Duration, onStart func(store.Room)) (*Supervisor, *store.Memory, *store.Room) {
	t.Helper()
	gw := store.NewMemory()
	room, err := gw.CreateRoom(ctx, "host", "Alice", testSettings())
	require.NoError(t, err)
	return New(ctx, *room, gw, grace, onStart, zap.NewNop()), gw, room
}

func recvSnapshot(t *testing.T, ch chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func drain(ch chan Snapshot) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestSupervisor_JoinAndReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, _, _ := newLobby(t, ctx, time.Minute, nil)

	hostBox := make(chan Snapshot, 8)
	require.NoError(t, sup.Join("host", "Alice", hostBox))
	snap := recvSnapshot(t, hostBox)
	require.Len(t, snap.Members, 1)

	bobBox := make(chan Snapshot, 8)
	require.NoError(t, sup.Join("bob", "Bob", bobBox))

	// Both clients see the new roster.
	snap = recvSnapshot(t, bobBox)
	assert.Len(t, snap.Members, 2)
	drain(hostBox)

	require.NoError(t, sup.ToggleReady("bob"))
	snap = recvSnapshot(t, bobBox)
	for _, m := range snap.Members {
		if m.PlayerID == "bob" {
			assert.True(t, m.IsReady)
		}
	}

	require.NoError(t, sup.ToggleReady("bob"))
	snap = recvSnapshot(t, bobBox)
	for _, m := range snap.Members {
		if m.PlayerID == "bob" {
			assert.False(t, m.IsReady)
		}
	}

	err := sup.ToggleReady("ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSupervisor_RoomFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, _, _ := newLobby(t, ctx, time.Minute, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("p2", "Bob", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("p3", "Cleo", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("p4", "Drew", make(chan Snapshot, 8)))

	err := sup.Join("p5", "Eve", make(chan Snapshot, 8))
	assert.ErrorIs(t, err, store.ErrRoomFull)
}

func TestSupervisor_HostControls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, gw, room := newLobby(t, ctx, time.Minute, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("bob", "Bob", make(chan Snapshot, 8)))

	assert.ErrorIs(t, sup.AddBot("bob"), store.ErrNotHost)
	assert.ErrorIs(t, sup.Kick("bob", "host"), store.ErrNotHost)

	require.NoError(t, sup.AddBot("host"))
	members, err := gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)

	var botID string
	for _, m := range members {
		if m.IsBot {
			botID = m.PlayerID
			assert.True(t, m.IsReady, "bots join ready")
			assert.NotEmpty(t, m.Username)
		}
	}
	require.NotEmpty(t, botID)

	// Removing a human through the bot path is refused.
	assert.ErrorIs(t, sup.RemoveBot("host", "bob"), store.ErrNotFound)

	require.NoError(t, sup.RemoveBot("host", botID))
	members, err = gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, sup.Kick("host", "bob"))
	members, err = gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestSupervisor_BotNamesStayUnique(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, gw, room := newLobby(t, ctx, time.Minute, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	require.NoError(t, sup.AddBot("host"))
	require.NoError(t, sup.AddBot("host"))
	require.NoError(t, sup.AddBot("host"))

	members, err := gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, m := range members {
		if !m.IsBot {
			continue
		}
		assert.False(t, seen[m.Username], "bot name %q handed out twice", m.Username)
		seen[m.Username] = true
	}
	assert.Len(t, seen, 3)
}

func TestSupervisor_StartGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var startedWith *store.Room
	sup, gw, room := newLobby(t, ctx, time.Minute, func(r store.Room) { startedWith = &r })

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))

	assert.ErrorIs(t, sup.Start("host"), store.ErrTooFewPlayers)
	assert.Nil(t, startedWith)

	require.NoError(t, sup.AddBot("host"))
	assert.ErrorIs(t, sup.Start("bot"), store.ErrNotHost)

	require.NoError(t, sup.Start("host"))
	require.NotNil(t, startedWith)
	assert.Equal(t, store.RoomPlaying, startedWith.Status)

	stored, err := gw.FetchRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoomPlaying, stored.Status)

	// No double start, and no late joins once the match is running.
	assert.ErrorIs(t, sup.Start("host"), store.ErrGameStarted)
	assert.ErrorIs(t, sup.Join("late", "Late", make(chan Snapshot, 8)), store.ErrGameStarted)

	// A seated player reconnecting is still welcome.
	assert.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
}

func TestSupervisor_EvictionAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, gw, room := newLobby(t, ctx, 30*time.Millisecond, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("bob", "Bob", make(chan Snapshot, 8)))

	sup.Leave("bob")

	require.Eventually(t, func() bool {
		members, err := gw.ListPlayers(ctx, room.ID)
		return err == nil && len(members) == 1
	}, time.Second, 5*time.Millisecond, "departed player should be evicted after the grace window")
}

func TestSupervisor_RejoinCancelsEviction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, gw, room := newLobby(t, ctx, 40*time.Millisecond, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	require.NoError(t, sup.Join("bob", "Bob", make(chan Snapshot, 8)))

	sup.Leave("bob")
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sup.Join("bob", "Bob", make(chan Snapshot, 8)))

	time.Sleep(80 * time.Millisecond)
	members, err := gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2, "rejoin inside the grace window keeps the seat")
}

func TestSupervisor_HostTransferAndEmptyRoomDeletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup, gw, room := newLobby(t, ctx, 20*time.Millisecond, nil)

	require.NoError(t, sup.Join("host", "Alice", make(chan Snapshot, 8)))
	time.Sleep(2 * time.Millisecond) // keep JoinedAt ordering stable
	require.NoError(t, sup.Join("bob", "Bob", make(chan Snapshot, 8)))
	require.NoError(t, sup.AddBot("host"))

	sup.Leave("host")

	// The earliest remaining human inherits the room; the bot never does.
	require.Eventually(t, func() bool {
		r, err := gw.FetchRoom(ctx, room.ID)
		return err == nil && r.HostID == "bob"
	}, time.Second, 5*time.Millisecond)

	// Bob can now use host controls.
	require.NoError(t, sup.Kick("bob", mustBotID(t, ctx, gw, room.ID)))

	sup.Leave("bob")

	// Last human gone: the room is deleted and the supervisor shuts down.
	select {
	case <-sup.Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor did not shut down after the room emptied")
	}
	_, err := gw.FetchRoom(ctx, room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func mustBotID(t *testing.T, ctx context.Context, gw store.Gateway, roomID string) string {
	t.Helper()
	members, err := gw.ListPlayers(ctx, roomID)
	require.NoError(t, err)
	for _, m := range members {
		if m.IsBot {
			return m.PlayerID
		}
	}
	t.Fatal("no bot seated")
	return ""
}
