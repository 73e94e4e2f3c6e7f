package bot

import (
	"fmt"
	"math/rand"
	"slices"
)

// Pirate-themed names, handed out without repeats per room.
var names = []string{
	"Captain Hook",
	"Blackbeard",
	"Anne Bonny",
	"Calico Jack",
	"Red Beard",
	"Davy Jones",
	"Long John",
	"Mad Morgan",
}

// PickName returns a bot name not already in use. When the pool runs dry it
// falls back to a numbered pirate.
func PickName(used []string) string {
	available := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(used, n) {
			available = append(available, n)
		}
	}
	if len(available) == 0 {
		return fmt.Sprintf("Pirate #%d", rand.Intn(100))
	}
	return available[rand.Intn(len(available))]
}
