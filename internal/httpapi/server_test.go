package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/chat"
	"github.com/okalkan/liars-dice-backend/internal/session"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

func testServer(t *testing.T, ctx context.Context) (*httptest.Server, *store.Memory) {
	t.Helper()
	gw := store.NewMemory()
	hub := channel.NewHub(ctx, 50*time.Millisecond, zap.NewNop())
	chatSvc := chat.NewService(gw, zap.NewNop())

	timings := session.DefaultTimings()
	timings.StartDelay = 10 * time.Millisecond

	s := NewServer(ctx, gw, hub, chatSvc, 50*time.Millisecond, timings, zap.NewNop())
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts, gw
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createTestRoom(t *testing.T, ts *httptest.Server) roomJSON {
	t.Helper()
	resp := postJSON(t, ts.URL+"/rooms", map[string]any{
		"playerId": "host", "username": "Alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rm := decode[roomJSON](t, resp)
	require.Len(t, rm.Code, 6)
	return rm
}

func TestCreateJoinList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts, _ := testServer(t, ctx)

	rm := createTestRoom(t, ts)
	assert.Equal(t, "host", rm.HostID)
	assert.Equal(t, "waiting", rm.Status)
	assert.Equal(t, 8, rm.Settings.MaxPlayers)

	resp := postJSON(t, ts.URL+"/rooms/"+rm.Code+"/join", map[string]any{
		"playerId": "bob", "username": "Bob",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/rooms/ZZZZZZ/join", map[string]any{
		"playerId": "bob", "username": "Bob",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	listings := decode[[]listingJSON](t, listResp)
	require.Len(t, listings, 1)
	assert.Equal(t, rm.Code, listings[0].Code)
	assert.Equal(t, "Alice", listings[0].HostUsername)
	assert.Equal(t, 2, listings[0].PlayerCount)

	roomResp, err := http.Get(ts.URL + "/rooms/" + rm.Code)
	require.NoError(t, err)
	got := decode[struct {
		roomJSON
		Members []memberJSON `json:"members"`
	}](t, roomResp)
	assert.Len(t, got.Members, 2)
}

func TestStartGate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts, gw := testServer(t, ctx)
	rm := createTestRoom(t, ts)

	resp := postJSON(t, ts.URL+"/rooms/"+rm.Code+"/start", map[string]any{"playerId": "host"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "one player cannot start")
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/rooms/"+rm.Code+"/bots", map[string]any{"playerId": "host"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/rooms/"+rm.Code+"/bots", map[string]any{"playerId": "nobody"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/rooms/"+rm.Code+"/start", map[string]any{"playerId": "host"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The authority comes up and persists the opening state.
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/rooms/" + rm.Code + "/session")
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	room, err := gw.FetchRoomByCode(ctx, rm.Code)
	require.NoError(t, err)
	assert.Equal(t, store.RoomPlaying, room.Status)

	// Started rooms no longer show in the open list.
	listResp, err := http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	assert.Empty(t, decode[[]listingJSON](t, listResp))
}

func TestReadyToggle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts, gw := testServer(t, ctx)
	rm := createTestRoom(t, ts)

	resp := postJSON(t, ts.URL+"/rooms/"+rm.Code+"/ready", map[string]any{"playerId": "host"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	room, err := gw.FetchRoomByCode(ctx, rm.Code)
	require.NoError(t, err)
	members, err := gw.ListPlayers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsReady)
}

func TestChatEndpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts, _ := testServer(t, ctx)
	rm := createTestRoom(t, ts)

	resp := postJSON(t, ts.URL+"/rooms/"+rm.Code+"/chat", map[string]any{
		"playerId": "host", "username": "Alice", "message": "yo ho ho",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/rooms/"+rm.Code+"/chat", map[string]any{
		"playerId": "host", "username": "Alice", "message": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	histResp, err := http.Get(ts.URL + "/rooms/" + rm.Code + "/chat")
	require.NoError(t, err)
	history := decode[[]map[string]any](t, histResp)
	require.Len(t, history, 1)
	assert.Equal(t, "yo ho ho", history[0]["message"])
}

func TestWebsocketLobbyFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts, _ := testServer(t, ctx)
	rm := createTestRoom(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?code=" + rm.Code + "&player=bob&name=Bob"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Code    string `json:"code"`
			Members []struct {
				PlayerID string `json:"playerId"`
			} `json:"members"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "lobby:update", env.Type)
	assert.Equal(t, rm.Code, env.Payload.Code)
	assert.Len(t, env.Payload.Members, 2, "bob is seated alongside the host")
}
