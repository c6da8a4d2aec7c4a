package services

import (
	"sort"

	"arena-ladder/models"
)

// DivisionCandidate is an active participant considered for rebalancing.
type DivisionCandidate struct {
	ParticipationID string
	Elo             int
	MatchCount      int
}

type DivisionAssignment struct {
	ParticipationID string
	DivisionNum     int
	InPlacements    bool
	MatchCount      int
}

// RankForDivisions orders candidates weakest first. Participants still in
// placements come first, closest to graduating first and weaker first among
// equals. Graduated participants follow in ascending elo.
func RankForDivisions(candidates []DivisionCandidate, nPlacements int) (ranked []DivisionCandidate, inPlacements map[string]bool) {
	var placing, graduated []DivisionCandidate
	inPlacements = make(map[string]bool)
	for _, c := range candidates {
		if nPlacements > 0 && c.MatchCount < nPlacements {
			placing = append(placing, c)
			inPlacements[c.ParticipationID] = true
		} else {
			graduated = append(graduated, c)
		}
	}

	sort.SliceStable(placing, func(i, j int) bool {
		a, b := placing[i], placing[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		if a.Elo != b.Elo {
			return a.Elo < b.Elo
		}
		return a.ParticipationID < b.ParticipationID
	})
	sort.SliceStable(graduated, func(i, j int) bool {
		a, b := graduated[i], graduated[j]
		if a.Elo != b.Elo {
			return a.Elo < b.Elo
		}
		return a.ParticipationID < b.ParticipationID
	})

	ranked = append(placing, graduated...)
	return ranked, inPlacements
}

// TargetDivisionCount decides how many divisions n participants should be
// split into. Divisions split or merge one at a time as the population grows
// or shrinks past multiples of the target size.
func TargetDivisionCount(comp *models.Competition, n int, firstRound bool) int {
	if firstRound || n < 2 {
		return 1
	}
	target := max(comp.TargetNDivisions, 1)
	size := comp.TargetDivisionSize
	next := max(comp.NDivisions, 1)
	if size <= 0 {
		return min(next, target, n)
	}

	if shouldSplitDivisions(next, target, size, n) {
		next++
	} else if shouldMergeDivisions(next, size, n) {
		next--
	}

	upper := max(1, min(target, n/size))
	return max(1, min(next, upper, n))
}

func shouldSplitDivisions(current, target, size, n int) bool {
	return current < target && n >= (current+1)*size
}

func shouldMergeDivisions(current, size, n int) bool {
	return current > 1 && n < current*size
}

// SplitIntoDivisions cuts the ranked sequence into nDivisions contiguous
// chunks whose sizes differ by at most one. The first chunk holds the weakest
// participants and receives the highest division number.
func SplitIntoDivisions(ranked []DivisionCandidate, inPlacements map[string]bool, nDivisions int) []DivisionAssignment {
	n := len(ranked)
	if n == 0 {
		return nil
	}
	nDivisions = max(1, min(nDivisions, n))

	base, extra := n/nDivisions, n%nDivisions
	out := make([]DivisionAssignment, 0, n)
	idx := 0
	for chunk := 0; chunk < nDivisions; chunk++ {
		size := base
		if chunk < extra {
			size++
		}
		division := nDivisions - 1 - chunk + models.MinDivision
		for _, c := range ranked[idx : idx+size] {
			out = append(out, DivisionAssignment{
				ParticipationID: c.ParticipationID,
				DivisionNum:     division,
				InPlacements:    inPlacements[c.ParticipationID],
				MatchCount:      c.MatchCount,
			})
		}
		idx += size
	}
	return out
}

// BalanceDivisions runs the whole balancing pass over the given candidates.
func BalanceDivisions(comp *models.Competition, candidates []DivisionCandidate, firstRound bool) (int, []DivisionAssignment) {
	ranked, inPlacements := RankForDivisions(candidates, comp.NPlacements)
	nDivisions := TargetDivisionCount(comp, len(ranked), firstRound)
	return nDivisions, SplitIntoDivisions(ranked, inPlacements, nDivisions)
}
