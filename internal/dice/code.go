package dice

import (
	"crypto/rand"
	"math/big"
)

// Room codes skip I, O, 0 and 1 so they survive being read out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLength is the canonical length of a shareable room code.
const RoomCodeLength = 6

// GenerateRoomCode returns a human-shareable code of the given length.
// Uniqueness against existing rooms is the caller's problem.
func GenerateRoomCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[num.Int64()]
	}
	return string(code), nil
}
