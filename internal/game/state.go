// Package game defines the shared session state every participant projects
// and the event sum type carried on the room channel. Transitions are kept
// as pure functions so that every projection converges on the same result
// regardless of which participant applies them.
package game

import (
	"errors"

	"github.com/okalkan/liars-dice-backend/internal/dice"
)

var (
	ErrNotYourTurn    = errors.New("not your turn")
	ErrInvalidBid     = errors.New("bid does not raise the last bid")
	ErrNoActiveBid    = errors.New("no active bid to challenge")
	ErrRoundNotActive = errors.New("round is not active")
)

// Status is the session lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusRevealing Status = "revealing"
	StatusRoundEnd  Status = "round_end"
	StatusFinished  Status = "finished"
)

// Settings are immutable once the room is created.
type Settings struct {
	JokerRule    bool `json:"jokerRule"`
	StartingDice int  `json:"startingDice"`
	TurnTimer    int  `json:"turnTimer"` // seconds, 0 = unlimited
	MaxPlayers   int  `json:"maxPlayers"`
}

// DefaultSettings is the standard table: wild ones, five dice each, 30
// second turns, up to eight seats.
func DefaultSettings() Settings {
	return Settings{JokerRule: true, StartingDice: 5, TurnTimer: 30, MaxPlayers: 8}
}

// GamePlayer is one seat at the table. Dice is only populated for seats the
// local participant is allowed to see (its own, plus bots on the host).
type GamePlayer struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DiceCount      int    `json:"diceCount"`
	Dice           []int  `json:"dice,omitempty"`
	IsEliminated   bool   `json:"isEliminated"`
	IsDisconnected bool   `json:"isDisconnected"`
	IsBot          bool   `json:"isBot"`
}

// Active reports whether the seat can still take a turn.
func (p GamePlayer) Active() bool {
	return !p.IsEliminated && !p.IsDisconnected
}

// State is the authoritative session record. TurnOrder is a permutation of
// player ids fixed at session creation; elimination flags a seat rather than
// removing it.
type State struct {
	RoomCode            string       `json:"roomCode"`
	Players             []GamePlayer `json:"players"`
	CurrentTurnPlayerID string       `json:"currentTurnPlayerId"`
	Round               int          `json:"round"`
	LastBid             *dice.Bid    `json:"lastBid"`
	Status              Status       `json:"status"`
	Settings            Settings     `json:"settings"`
	WinnerID            string       `json:"winnerId,omitempty"`
	TurnOrder           []string     `json:"turnOrder"`
}

// Player returns the seat with the given id, or nil.
func (s *State) Player(id string) *GamePlayer {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// ActivePlayers returns the seats that are neither eliminated nor
// disconnected.
func ActivePlayers(players []GamePlayer) []GamePlayer {
	active := make([]GamePlayer, 0, len(players))
	for _, p := range players {
		if p.Active() {
			active = append(active, p)
		}
	}
	return active
}

// TotalDice is the number of dice still on the table across active seats.
func TotalDice(players []GamePlayer) int {
	total := 0
	for _, p := range players {
		if p.Active() {
			total += p.DiceCount
		}
	}
	return total
}

// Clone deep-copies the state so a projection can be mutated without
// aliasing the slices of the event it came from.
func (s State) Clone() State {
	out := s
	out.Players = make([]GamePlayer, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = p
		if p.Dice != nil {
			out.Players[i].Dice = append([]int(nil), p.Dice...)
		}
	}
	out.TurnOrder = append([]string(nil), s.TurnOrder...)
	if s.LastBid != nil {
		bid := *s.LastBid
		out.LastBid = &bid
	}
	return out
}

// NextTurnPlayerID walks the turn order cyclically starting just after
// current and returns the first seat whose occupant is still active. If no
// other seat qualifies the current holder is returned unchanged.
func NextTurnPlayerID(turnOrder []string, current string, players []GamePlayer) string {
	active := ActivePlayers(players)
	if len(active) <= 1 {
		if len(active) == 1 {
			return active[0].ID
		}
		return current
	}

	activeIDs := make(map[string]bool, len(active))
	for _, p := range active {
		activeIDs[p.ID] = true
	}

	currentIdx := -1
	for i, id := range turnOrder {
		if id == current {
			currentIdx = i
			break
		}
	}

	for i := 1; i <= len(turnOrder); i++ {
		next := turnOrder[(currentIdx+i)%len(turnOrder)]
		if activeIDs[next] {
			return next
		}
	}
	return current
}

// ValidateBid checks a local intent before any event is sent. Rejections
// stay local; nothing reaches the network.
func ValidateBid(s *State, playerID string, bid dice.Bid) error {
	if s == nil || s.Status != StatusActive {
		return ErrRoundNotActive
	}
	if s.CurrentTurnPlayerID != playerID {
		return ErrNotYourTurn
	}
	if !dice.IsValidBid(bid, s.LastBid) {
		return ErrInvalidBid
	}
	return nil
}

// ValidateLiarCall checks a liar-call intent the same way.
func ValidateLiarCall(s *State, callerID string) error {
	if s == nil || s.Status != StatusActive {
		return ErrRoundNotActive
	}
	if s.CurrentTurnPlayerID != callerID {
		return ErrNotYourTurn
	}
	if s.LastBid == nil {
		return ErrNoActiveBid
	}
	return nil
}

// RoundOutcome describes what a round:end application did to the state.
type RoundOutcome struct {
	Eliminated bool
	Finished   bool
	WinnerID   string
}

// ApplyRoundEnd removes one die from the loser and re-derives elimination
// and the win condition. The input state is not mutated.
func ApplyRoundEnd(s State, loserID string) (State, RoundOutcome) {
	out := s.Clone()
	var outcome RoundOutcome

	if loser := out.Player(loserID); loser != nil {
		loser.DiceCount--
		if loser.DiceCount <= 0 {
			loser.DiceCount = 0
			loser.IsEliminated = true
			outcome.Eliminated = true
		}
	}

	active := ActivePlayers(out.Players)
	if len(active) <= 1 {
		out.Status = StatusFinished
		if len(active) == 1 {
			out.WinnerID = active[0].ID
		}
		outcome.Finished = true
		outcome.WinnerID = out.WinnerID
	} else {
		out.Status = StatusRoundEnd
	}
	return out, outcome
}
