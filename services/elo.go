package services

import "math"

// EloK is the maximum rating change from a single match.
const EloK = 16

// ExpectedWinRate is the probability that a player rated rA beats one rated rB.
func ExpectedWinRate(rA, rB int) float64 {
	return 1 / (1 + math.Pow(10, float64(rB-rA)/400))
}

// EloDelta is the rating change for the player rated rA. outcome is 1 for a
// win, 0 for a loss and 0.5 for a draw. The opponent receives -EloDelta.
// Rounds half up.
func EloDelta(rA, rB int, outcome float64) int {
	return int(math.Floor(EloK*(outcome-ExpectedWinRate(rA, rB)) + 0.5))
}
