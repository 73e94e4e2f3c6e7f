package bot

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okalkan/liars-dice-backend/internal/dice"
)

// pin the gray-zone coin flip so decisions are deterministic under test
func pinChance(t *testing.T, v float64) {
	t.Helper()
	old := chance
	chance = func() float64 { return v }
	t.Cleanup(func() { chance = old })
}

func TestDecide_OpeningBid(t *testing.T) {
	// No last bid: always bids, anchored at ceil(total/6), on the best-held
	// value with ties broken toward the higher value.
	d := Decide([]int{3, 3, 5}, nil, 14, false)

	require.Equal(t, ActionBid, d.Action)
	assert.Equal(t, 3, d.Bid.Quantity) // ceil(14/6)
	assert.Equal(t, 3, d.Bid.Value)
}

func TestDecide_OpeningBidTieBreaksHigh(t *testing.T) {
	d := Decide([]int{2, 2, 6, 6}, nil, 6, false)

	require.Equal(t, ActionBid, d.Action)
	assert.Equal(t, 6, d.Bid.Value, "ties broken toward the higher value")
	assert.Equal(t, 1, d.Bid.Quantity)
}

func TestDecide_RaisesValueBeforeQuantity(t *testing.T) {
	pinChance(t, 1.0) // never take the gray-zone liar branch

	last := &dice.Bid{Quantity: 3, Value: 4}
	d := Decide([]int{2, 2, 5}, last, 10, true)

	require.Equal(t, ActionBid, d.Action)
	assert.Equal(t, 3, d.Bid.Quantity, "quantity held while value can rise")
	assert.Equal(t, 5, d.Bid.Value, "lowest held value above the last bid")
}

func TestDecide_BluffsValueWhenHoldingNone(t *testing.T) {
	pinChance(t, 1.0)

	// Joker off, bot holds nothing above 4; it still nudges the value up.
	// Table is large enough that the last bid reads as safe.
	last := &dice.Bid{Quantity: 2, Value: 4}
	d := Decide([]int{2, 2, 3}, last, 20, false)

	require.Equal(t, ActionBid, d.Action)
	assert.Equal(t, 2, d.Bid.Quantity)
	assert.Equal(t, 5, d.Bid.Value)
}

func TestDecide_RaisesQuantityAtMaxValue(t *testing.T) {
	pinChance(t, 1.0)

	last := &dice.Bid{Quantity: 2, Value: 6}
	d := Decide([]int{4, 4, 4, 2}, last, 18, false)

	require.Equal(t, ActionBid, d.Action)
	assert.Equal(t, 3, d.Bid.Quantity, "value 6 forces a quantity raise")
	assert.Equal(t, 4, d.Bid.Value, "best-held value")
}

func TestDecide_CallsLiarOnOutlandishBid(t *testing.T) {
	// Bot holds no 6s, 5 other dice expected to contribute 5/6 of a six.
	// A bid of ten 6s is far beyond 1.6x expected: probability 0.85, always
	// a liar call.
	last := &dice.Bid{Quantity: 10, Value: 6}
	d := Decide([]int{2, 2, 3}, last, 8, false)

	assert.Equal(t, ActionLiar, d.Action)
}

func TestDecide_GrayZoneCoinFlip(t *testing.T) {
	// Construct expected ~= 4 with a bid of 5: ratio 1.25 -> probability
	// 0.5, inside the (0.4, 0.6] band where the coin decides.
	botDice := []int{4, 4}
	last := &dice.Bid{Quantity: 5, Value: 4}

	pinChance(t, 0.1) // below 0.3: call liar
	d := Decide(botDice, last, 14, false)
	assert.Equal(t, ActionLiar, d.Action)

	pinChance(t, 0.9) // above 0.3: bid instead
	d = Decide(botDice, last, 14, false)
	assert.Equal(t, ActionBid, d.Action)
}

func TestDelayBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := Delay()
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.Less(t, d, 4*time.Second)
	}
}

func TestPickName(t *testing.T) {
	used := []string{}
	for i := 0; i < len(names); i++ {
		n := PickName(used)
		assert.False(t, slices.Contains(used, n), "name %q handed out twice", n)
		used = append(used, n)
	}

	// Pool exhausted: falls back to a numbered pirate.
	fallback := PickName(used)
	assert.Contains(t, fallback, "Pirate #")
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Contains(t, a, "bot-")
	assert.NotEqual(t, a, b)
}
