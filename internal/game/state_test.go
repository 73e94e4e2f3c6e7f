package game

import (
	"errors"
	"testing"

	"github.com/okalkan/liars-dice-backend/internal/dice"
)

func fourSeats() []GamePlayer {
	return []GamePlayer{
		{ID: "A", Username: "a", DiceCount: 3},
		{ID: "B", Username: "b", DiceCount: 3},
		{ID: "C", Username: "c", DiceCount: 3},
		{ID: "D", Username: "d", DiceCount: 3},
	}
}

func TestNextTurnPlayerID(t *testing.T) {
	order := []string{"A", "B", "C", "D"}

	cases := []struct {
		name    string
		current string
		mutate  func([]GamePlayer)
		want    string
	}{
		{
			name:    "all active advances to next seat",
			current: "B",
			mutate:  func([]GamePlayer) {},
			want:    "C",
		},
		{
			name:    "eliminated seat is skipped",
			current: "B",
			mutate:  func(ps []GamePlayer) { ps[2].IsEliminated = true },
			want:    "D",
		},
		{
			name:    "disconnected seat is skipped",
			current: "B",
			mutate:  func(ps []GamePlayer) { ps[2].IsDisconnected = true },
			want:    "D",
		},
		{
			name:    "wraps around the table",
			current: "D",
			mutate:  func([]GamePlayer) {},
			want:    "A",
		},
		{
			name:    "single survivor holds the turn",
			current: "A",
			mutate: func(ps []GamePlayer) {
				ps[1].IsEliminated = true
				ps[2].IsEliminated = true
				ps[3].IsEliminated = true
			},
			want: "A",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			players := fourSeats()
			tc.mutate(players)
			got := NextTurnPlayerID(order, tc.current, players)
			if got != tc.want {
				t.Fatalf("NextTurnPlayerID(%q) = %q, want %q", tc.current, got, tc.want)
			}
		})
	}
}

func TestApplyRoundEnd_EliminationInvariant(t *testing.T) {
	s := State{
		Players:   fourSeats(),
		TurnOrder: []string{"A", "B", "C", "D"},
		Status:    StatusRevealing,
		Round:     1,
	}

	// Hammer one seat until it is eliminated; the invariant must hold after
	// every application.
	for i := 0; i < 3; i++ {
		var outcome RoundOutcome
		s, outcome = ApplyRoundEnd(s, "B")
		b := s.Player("B")
		if (b.DiceCount <= 0) != b.IsEliminated {
			t.Fatalf("after loss %d: diceCount=%d isEliminated=%v", i+1, b.DiceCount, b.IsEliminated)
		}
		if i < 2 && (outcome.Eliminated || outcome.Finished) {
			t.Fatalf("premature outcome after loss %d: %+v", i+1, outcome)
		}
	}

	if !s.Player("B").IsEliminated {
		t.Fatalf("B should be eliminated after losing all dice")
	}
	if s.Status != StatusRoundEnd {
		t.Fatalf("three players remain, want round_end, got %s", s.Status)
	}
}

func TestApplyRoundEnd_Termination(t *testing.T) {
	s := State{
		Players:   fourSeats(),
		TurnOrder: []string{"A", "B", "C", "D"},
		Status:    StatusActive,
		Round:     1,
	}

	// Rotate losses among everyone but A; the game must terminate with A as
	// the sole survivor, and within a bounded number of rounds.
	losers := []string{"B", "C", "D"}
	for i := 0; i < 100; i++ {
		if s.Status == StatusFinished {
			break
		}
		var loser string
		for _, id := range losers {
			if p := s.Player(id); p != nil && !p.IsEliminated {
				loser = id
				break
			}
		}
		s, _ = ApplyRoundEnd(s, loser)
	}

	if s.Status != StatusFinished {
		t.Fatalf("game never terminated")
	}
	if s.WinnerID != "A" {
		t.Fatalf("want winner A, got %q", s.WinnerID)
	}
	if len(ActivePlayers(s.Players)) != 1 {
		t.Fatalf("want exactly one active player at the end")
	}
}

func TestValidateBid(t *testing.T) {
	last := &dice.Bid{PlayerID: "A", Quantity: 2, Value: 3}
	s := &State{
		Players:             fourSeats(),
		TurnOrder:           []string{"A", "B", "C", "D"},
		CurrentTurnPlayerID: "B",
		Status:              StatusActive,
		LastBid:             last,
	}

	if err := ValidateBid(s, "B", dice.Bid{PlayerID: "B", Quantity: 3, Value: 1}); err != nil {
		t.Fatalf("legal raise rejected: %v", err)
	}
	if err := ValidateBid(s, "C", dice.Bid{PlayerID: "C", Quantity: 3, Value: 1}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("want ErrNotYourTurn, got %v", err)
	}
	if err := ValidateBid(s, "B", dice.Bid{PlayerID: "B", Quantity: 2, Value: 2}); !errors.Is(err, ErrInvalidBid) {
		t.Fatalf("want ErrInvalidBid, got %v", err)
	}

	s.Status = StatusRevealing
	if err := ValidateBid(s, "B", dice.Bid{PlayerID: "B", Quantity: 3, Value: 1}); !errors.Is(err, ErrRoundNotActive) {
		t.Fatalf("want ErrRoundNotActive, got %v", err)
	}
}

func TestValidateLiarCall(t *testing.T) {
	s := &State{
		Players:             fourSeats(),
		TurnOrder:           []string{"A", "B", "C", "D"},
		CurrentTurnPlayerID: "B",
		Status:              StatusActive,
	}

	if err := ValidateLiarCall(s, "B"); !errors.Is(err, ErrNoActiveBid) {
		t.Fatalf("want ErrNoActiveBid on fresh round, got %v", err)
	}

	s.LastBid = &dice.Bid{PlayerID: "A", Quantity: 2, Value: 3}
	if err := ValidateLiarCall(s, "B"); err != nil {
		t.Fatalf("legal call rejected: %v", err)
	}
	if err := ValidateLiarCall(s, "C"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("want ErrNotYourTurn, got %v", err)
	}
}
