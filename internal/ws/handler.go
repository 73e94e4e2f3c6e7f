// Package ws bridges remote clients to a room's broadcast channel: every
// event published in the room goes down the socket as a JSON envelope, and
// every envelope the client sends is decoded and relayed through the
// connection's inbound policy.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/room"
)

const writeTimeout = 3 * time.Second

// Binding is one connection's attachment to a room runtime.
type Binding struct {
	Sub     channel.Subscription
	Lobby   chan room.Snapshot
	Inbound func(game.Event) error
	Close   func()
}

// RoomBinder seats a player in a room and returns their binding.
type RoomBinder interface {
	Bind(ctx context.Context, code, playerID, username string) (*Binding, error)
}

// lobbyUpdate is the wire form of a lobby snapshot.
type lobbyUpdate struct {
	Code    string        `json:"code"`
	HostID  string        `json:"hostId"`
	Status  string        `json:"status"`
	Started bool          `json:"started"`
	Members []lobbyMember `json:"members"`
}

type lobbyMember struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	IsReady  bool   `json:"isReady"`
	IsBot    bool   `json:"isBot"`
	IsHost   bool   `json:"isHost"`
}

type presenceUpdate struct {
	PlayerID string `json:"playerId"`
	Type     string `json:"type"`
}

// Handler upgrades GET /ws?code=&player=&name= and runs the relay until
// either side goes away.
func Handler(binder RoomBinder, logger *zap.Logger) http.HandlerFunc {
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		playerID := r.URL.Query().Get("player")
		username := r.URL.Query().Get("name")
		if code == "" || playerID == "" {
			http.Error(w, "missing code or player", http.StatusBadRequest)
			return
		}
		if username == "" {
			username = playerID
		}

		binding, err := binder.Bind(r.Context(), code, playerID, username)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			binding.Close()
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		defer binding.Close()

		logger.Info("client connected", zap.String("room", code), zap.String("player", playerID))

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writer(writeCtx, conn, binding)

		// Reader loop: decode and relay until close.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					logger.Debug("read failed", zap.String("player", playerID), zap.Error(err))
				}
				return
			}

			ev, err := game.Decode(data)
			if err != nil {
				writeErr(r.Context(), conn, "bad event")
				continue
			}
			if err := binding.Inbound(ev); err != nil {
				writeErr(r.Context(), conn, err.Error())
			}
		}
	}
}

// writer drains the binding's channels into the socket. It exits when the
// event channel closes, which is also how the room tells a dropped slow
// subscriber to go away.
func writer(ctx context.Context, conn *websocket.Conn, binding *Binding) {
	for {
		var payload []byte

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-binding.Sub.Events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
			data, err := game.Encode(ev)
			if err != nil {
				continue
			}
			payload = data

		case p, ok := <-binding.Sub.Presence:
			if !ok {
				binding.Sub.Presence = nil
				continue
			}
			payload = envelope("presence:"+string(p.Type), presenceUpdate{PlayerID: p.PlayerID, Type: string(p.Type)})

		case snap, ok := <-binding.Lobby:
			if !ok {
				binding.Lobby = nil
				continue
			}
			payload = envelope("lobby:update", toLobbyUpdate(snap))
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			return
		}
	}
}

func toLobbyUpdate(snap room.Snapshot) lobbyUpdate {
	out := lobbyUpdate{
		Code:    snap.Room.Code,
		HostID:  snap.Room.HostID,
		Status:  string(snap.Room.Status),
		Started: snap.Started,
	}
	for _, m := range snap.Members {
		out.Members = append(out.Members, lobbyMember{
			PlayerID: m.PlayerID,
			Username: m.Username,
			IsReady:  m.IsReady,
			IsBot:    m.IsBot,
			IsHost:   m.PlayerID == snap.Room.HostID,
		})
	}
	return out
}

func envelope(typ string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: typ, Payload: raw})
	return data
}

func writeErr(ctx context.Context, conn *websocket.Conn, msg string) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, envelope("error", map[string]string{"error": msg}))
}
