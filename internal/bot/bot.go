// Package bot decides what a table bot does on its turn: raise the bid or
// call liar, based on a probabilistic read of the last bid against the
// expected dice on the table.
package bot

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/okalkan/liars-dice-backend/internal/dice"
)

// Action is what the bot chose to do.
type Action string

const (
	ActionBid  Action = "bid"
	ActionLiar Action = "liar"
)

// Decision is the bot's move. Bid is only meaningful when Action is
// ActionBid.
type Decision struct {
	Action Action
	Bid    dice.Bid
}

// chance is swappable so tests can pin the bounded-randomness band.
var chance = rand.Float64

// Decide returns the bot's move given its private dice, the last bid (nil on
// a fresh round) and the total dice remaining across active players.
func Decide(botDice []int, lastBid *dice.Bid, totalDice int, jokerRule bool) Decision {
	if lastBid == nil {
		return smartBid(botDice, nil, totalDice, jokerRule)
	}

	p := liarProbability(botDice, *lastBid, totalDice, jokerRule)
	if p > 0.6 {
		return Decision{Action: ActionLiar}
	}
	// Gray zone: call liar 30% of the time so the bot cannot be farmed
	// deterministically.
	if p > 0.4 && chance() < 0.3 {
		return Decision{Action: ActionLiar}
	}
	return smartBid(botDice, lastBid, totalDice, jokerRule)
}

// liarProbability estimates how likely the last bid is a lie from the gap
// between its quantity and the expected count of its value on the table.
func liarProbability(botDice []int, lastBid dice.Bid, totalDice int, jokerRule bool) float64 {
	myCount := dice.CountValue(botDice, lastBid.Value, jokerRule)

	perDie := 1.0 / 6.0
	if jokerRule && lastBid.Value != 1 {
		perDie = 2.0 / 6.0
	}
	expected := float64(myCount) + float64(totalDice-len(botDice))*perDie

	q := float64(lastBid.Quantity)
	switch {
	case q <= expected*0.7:
		return 0.1
	case q <= expected:
		return 0.3
	case q <= expected*1.3:
		return 0.5
	case q <= expected*1.6:
		return 0.7
	default:
		return 0.85
	}
}

// smartBid raises the last bid, preferring to raise the value while holding
// quantity before raising quantity.
func smartBid(botDice []int, lastBid *dice.Bid, totalDice int, jokerRule bool) Decision {
	counts := make(map[int]int, 6)
	for v := 1; v <= 6; v++ {
		counts[v] = dice.CountValue(botDice, v, jokerRule)
	}

	bestValue, bestCount := 2, 0
	for v := 1; v <= 6; v++ {
		if counts[v] > bestCount || (counts[v] == bestCount && v > bestValue) {
			bestCount = counts[v]
			bestValue = v
		}
	}

	if lastBid == nil {
		// Opening bid: anchor the quantity on the table-wide mean.
		quantity := int(math.Ceil(float64(totalDice) / 6.0))
		if quantity < 1 {
			quantity = 1
		}
		return Decision{Action: ActionBid, Bid: dice.Bid{Quantity: quantity, Value: bestValue}}
	}

	if lastBid.Value < 6 {
		// Same quantity, smallest held value above the last bid's.
		for v := lastBid.Value + 1; v <= 6; v++ {
			if counts[v] >= 1 {
				return Decision{Action: ActionBid, Bid: dice.Bid{Quantity: lastBid.Quantity, Value: v}}
			}
		}
		// Holds none above: bluff the next value up anyway.
		return Decision{Action: ActionBid, Bid: dice.Bid{Quantity: lastBid.Quantity, Value: lastBid.Value + 1}}
	}

	// Value is maxed out; quantity has to go up.
	return Decision{Action: ActionBid, Bid: dice.Bid{Quantity: lastBid.Quantity + 1, Value: bestValue}}
}

// Delay is the bot's artificial think time, 2-4s, so bot responses pace like
// a human's.
func Delay() time.Duration {
	return 2*time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
}

// NewID returns a fresh bot player id.
func NewID() string {
	return fmt.Sprintf("bot-%d-%06d", time.Now().UnixMilli(), rand.Intn(1000000))
}
