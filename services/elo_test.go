package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedWinRate(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, ExpectedWinRate(1600, 1600), 1e-9)
	assert.InDelta(t, 0.35993, ExpectedWinRate(1600, 1700), 1e-5)
	assert.InDelta(t, 1.0, ExpectedWinRate(1600, 1700)+ExpectedWinRate(1700, 1600), 1e-9)
}

func TestEloDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rA, rB  int
		outcome float64
		want    int
	}{
		{"underdog wins", 1600, 1700, 1, 10},
		{"underdog loses", 1600, 1700, 0, -6},
		{"favourite wins", 1700, 1600, 1, 6},
		{"even win", 1600, 1600, 1, 8},
		{"even tie", 1600, 1600, 0.5, 0},
		{"underdog ties", 1600, 1700, 0.5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EloDelta(tt.rA, tt.rB, tt.outcome))
		})
	}
}

func TestEloDeltaIsZeroSumPerMatch(t *testing.T) {
	t.Parallel()

	for _, ratings := range [][2]int{{1600, 1700}, {1234, 2100}, {1800, 1799}, {1500, 1500}} {
		for _, outcome := range []float64{0, 0.5, 1} {
			a := EloDelta(ratings[0], ratings[1], outcome)
			b := EloDelta(ratings[1], ratings[0], 1-outcome)
			assert.LessOrEqual(t, abs(a+b), 1, "ratings %v outcome %v", ratings, outcome)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
