package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okalkan/liars-dice-backend/internal/dice"
)

// SkipPlayerID marks the zero-payload bid variant the host emits to force a
// turn advance past a disconnected player.
const SkipPlayerID = "__skip__"

// EventType tags the wire envelope.
type EventType string

const (
	EvtGameStart          EventType = "game:start"
	EvtBidMake            EventType = "bid:make"
	EvtBidLiar            EventType = "bid:liar"
	EvtDiceReveal         EventType = "dice:reveal"
	EvtRoundEnd           EventType = "round:end"
	EvtGameEnd            EventType = "game:end"
	EvtTurnTimeout        EventType = "turn:timeout"
	EvtPlayerEliminated   EventType = "player:eliminated"
	EvtPlayerDisconnected EventType = "player:disconnected"
	EvtChatMessage        EventType = "chat:message"
)

// Event is the closed sum of everything broadcast on a room channel: the
// nine game-protocol events plus chat, which rides the same transport but
// never touches the state machine.
type Event interface {
	Type() EventType
}

// GameStart replaces every projection wholesale. It doubles as the
// round-start event: the host re-broadcasts it with the next round's state.
type GameStart struct {
	State State `json:"state"`
}

// BidMade either carries a real bid or, when Bid.PlayerID is SkipPlayerID,
// the forced turn advance with SkipTo holding the resolved next seat.
type BidMade struct {
	Bid    dice.Bid `json:"bid"`
	SkipTo string   `json:"skipTo,omitempty"`
}

// IsSkip reports whether this is the disconnect-driven forced advance.
func (b BidMade) IsSkip() bool { return b.Bid.PlayerID == SkipPlayerID }

type LiarCalled struct {
	CallerID string `json:"callerId"`
}

// PlayerDice is one participant's revealed hand.
type PlayerDice struct {
	ID   string `json:"id"`
	Dice []int  `json:"dice"`
}

type DiceRevealed struct {
	Players []PlayerDice `json:"players"`
}

type RoundEnded struct {
	LoserID string `json:"loserId"`
	Reason  string `json:"reason"`
}

type GameEnded struct {
	WinnerID string `json:"winnerId"`
}

type TurnTimedOut struct {
	PlayerID string `json:"playerId"`
}

type PlayerEliminated struct {
	PlayerID string `json:"playerId"`
}

type PlayerDisconnected struct {
	PlayerID string `json:"playerId"`
}

// ChatMessage is the parallel, lower-stakes use of the room channel.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	PlayerID  string    `json:"playerId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	IsSystem  bool      `json:"isSystem"`
	CreatedAt time.Time `json:"createdAt"`
}

func (GameStart) Type() EventType          { return EvtGameStart }
func (BidMade) Type() EventType            { return EvtBidMake }
func (LiarCalled) Type() EventType         { return EvtBidLiar }
func (DiceRevealed) Type() EventType       { return EvtDiceReveal }
func (RoundEnded) Type() EventType         { return EvtRoundEnd }
func (GameEnded) Type() EventType          { return EvtGameEnd }
func (TurnTimedOut) Type() EventType       { return EvtTurnTimeout }
func (PlayerEliminated) Type() EventType   { return EvtPlayerEliminated }
func (PlayerDisconnected) Type() EventType { return EvtPlayerDisconnected }
func (ChatMessage) Type() EventType        { return EvtChatMessage }

// Envelope is the wire shape: a type tag plus the event payload.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps an event in its envelope for the wire.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Type: ev.Type(), Payload: payload})
}

// Decode parses an envelope back into its concrete event. Unknown types are
// reported so callers can ignore them rather than fail.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	switch env.Type {
	case EvtGameStart:
		ev = &GameStart{}
	case EvtBidMake:
		ev = &BidMade{}
	case EvtBidLiar:
		ev = &LiarCalled{}
	case EvtDiceReveal:
		ev = &DiceRevealed{}
	case EvtRoundEnd:
		ev = &RoundEnded{}
	case EvtGameEnd:
		ev = &GameEnded{}
	case EvtTurnTimeout:
		ev = &TurnTimedOut{}
	case EvtPlayerEliminated:
		ev = &PlayerEliminated{}
	case EvtPlayerDisconnected:
		ev = &PlayerDisconnected{}
	case EvtChatMessage:
		ev = &ChatMessage{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return deref(ev), nil
}

// deref unwraps the pointers Decode needed for unmarshalling so consumers
// always see value events.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *GameStart:
		return *e
	case *BidMade:
		return *e
	case *LiarCalled:
		return *e
	case *DiceRevealed:
		return *e
	case *RoundEnded:
		return *e
	case *GameEnded:
		return *e
	case *TurnTimedOut:
		return *e
	case *PlayerEliminated:
		return *e
	case *PlayerDisconnected:
		return *e
	case *ChatMessage:
		return *e
	}
	return ev
}
