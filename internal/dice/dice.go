// Package dice holds the pure rules of the game: rolling, counting with the
// joker rule, bid ordering and liar-call evaluation. Nothing in here keeps
// state; every other package builds on these functions.
package dice

import (
	"math/rand"
	"sort"
)

// Bid is a claim of "at least Quantity dice showing Value" across every
// player's hidden dice.
type Bid struct {
	PlayerID string `json:"playerId"`
	Quantity int    `json:"quantity"`
	Value    int    `json:"value"`
}

// Roll returns count independent uniform samples in [1,6], sorted ascending.
func Roll(count int) []int {
	dice := make([]int, count)
	for i := range dice {
		dice[i] = rand.Intn(6) + 1
	}
	sort.Ints(dice)
	return dice
}

// CountValue counts dice showing value. Under the joker rule, ones count as
// any claimed value except when the claimed value is itself 1.
func CountValue(dice []int, value int, jokerRule bool) int {
	count := 0
	for _, die := range dice {
		if die == value {
			count++
		} else if jokerRule && die == 1 && value != 1 {
			count++
		}
	}
	return count
}

// IsValidBid reports whether candidate may follow previous. The first bid of
// a round has no predecessor and is always valid as long as it is in range.
func IsValidBid(candidate Bid, previous *Bid) bool {
	if candidate.Quantity < 1 || candidate.Value < 1 || candidate.Value > 6 {
		return false
	}
	if previous == nil {
		return true
	}
	if candidate.Quantity > previous.Quantity {
		return true
	}
	return candidate.Quantity == previous.Quantity && candidate.Value > previous.Value
}

// LiarResult is the outcome of evaluating the last bid against every die on
// the table.
type LiarResult struct {
	BidQuantity   int
	BidValue      int
	ActualCount   int
	BidWasCorrect bool
}

// EvaluateLiarCall is deterministic given its inputs; it is the single
// source of truth for round resolution.
func EvaluateLiarCall(bid Bid, allDice []int, jokerRule bool) LiarResult {
	actual := CountValue(allDice, bid.Value, jokerRule)
	return LiarResult{
		BidQuantity:   bid.Quantity,
		BidValue:      bid.Value,
		ActualCount:   actual,
		BidWasCorrect: actual >= bid.Quantity,
	}
}

// MinimumNextBid returns the smallest bid that may follow previous. Used to
// seed defaults only; validity is still checked through IsValidBid.
func MinimumNextBid(previous Bid) Bid {
	if previous.Value < 6 {
		return Bid{Quantity: previous.Quantity, Value: previous.Value + 1}
	}
	return Bid{Quantity: previous.Quantity + 1, Value: 1}
}
