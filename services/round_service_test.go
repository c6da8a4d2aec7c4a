package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arena-ladder/models"
)

func (f *fixture) generateRound(compID string) (*models.Round, error) {
	var round *models.Round
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var comp models.Competition
		if err := tx.Where("id = ?", compID).First(&comp).Error; err != nil {
			return err
		}
		var err error
		round, err = f.rounds.GenerateRound(tx, &comp)
		return err
	})
	return round, err
}

func (f *fixture) roundMatches(roundID string) []models.Match {
	var matches []models.Match
	require.NoError(f.t, f.db.Preload("Participations").Where("round_id = ?", roundID).Find(&matches).Error)
	return matches
}

func TestGenerateRoundFirstRoundIsSingleDivision(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("first", 4, func(c *models.Competition) {
		c.TargetNDivisions = 2
		c.TargetDivisionSize = 2
	})

	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Number)
	assert.Len(t, f.roundMatches(round.ID), 6)

	var reloaded models.Competition
	require.NoError(t, f.db.Where("id = ?", comp.ID).First(&reloaded).Error)
	assert.Equal(t, 1, reloaded.NDivisions)
	assert.Equal(t, 1, reloaded.RoundsThisCycle)
	assert.Equal(t, int64(4), f.count(&models.CompetitionParticipation{},
		"competition_id = ? AND division_num = ? AND participated_in_most_recent_round = ?", comp.ID, models.MinDivision, true))
}

func TestGenerateRoundIsRoundRobinWithinDivisions(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("divisions", 7, func(c *models.Competition) {
		c.NDivisions = 2
		c.TargetNDivisions = 2
		c.TargetDivisionSize = 3
		c.RoundsPerCycle = 3
		c.RoundsThisCycle = 3
	})
	require.NoError(t, f.db.Create(&models.Round{CompetitionID: comp.ID, Number: 1, Complete: true}).Error)

	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, round.Number)

	var parts []models.CompetitionParticipation
	require.NoError(t, f.db.Where("competition_id = ?", comp.ID).Find(&parts).Error)
	divisionOf := make(map[string]int)
	sizes := make(map[int]int)
	for _, p := range parts {
		divisionOf[p.BotID] = p.DivisionNum
		sizes[p.DivisionNum]++
	}
	assert.Equal(t, map[int]int{1: 3, 2: 4}, sizes)

	matches := f.roundMatches(round.ID)
	pairs := make(map[[2]string]bool)
	perDivision := make(map[int]int)
	for _, m := range matches {
		require.Len(t, m.Participations, 2)
		a, b := m.Participations[0].BotID, m.Participations[1].BotID
		require.Equal(t, divisionOf[a], divisionOf[b], "match crosses divisions")
		if a > b {
			a, b = b, a
		}
		key := [2]string{a, b}
		assert.False(t, pairs[key], "duplicate pairing")
		pairs[key] = true
		perDivision[divisionOf[a]]++
	}
	for division, k := range sizes {
		assert.Equal(t, k*(k-1)/2, perDivision[division], "division %d", division)
	}
}

func TestGenerateRoundSkipsUnplacedNewcomers(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("newcomers", 3)

	_, err := f.generateRound(comp.ID)
	require.NoError(t, err)

	late := f.bot(f.user("late-owner"), "late-bot", false)
	f.join(comp, late, 1600)

	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, round.Number)
	assert.Len(t, f.roundMatches(round.ID), 3)

	p := f.participation(comp.ID, late.ID)
	assert.Equal(t, models.DefaultDivision, p.DivisionNum)
	assert.False(t, p.ParticipatedInMostRecentRound)
}

func TestNextMatchPlacesNewcomerWhenDivisionEmptiesMidCycle(t *testing.T) {
	f := newFixture(t)
	comp, bots := f.ladder("stranded", 2)

	m, client := f.startNext("worker")
	_, err := f.results.SubmitResult(f.ctx, SubmitResultRequest{
		MatchID:       m.ID,
		ArenaClientID: client.ID,
		Type:          models.ResultTie,
		GameSteps:     500,
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.CompetitionParticipation{}).
		Where("competition_id = ? AND bot_id = ?", comp.ID, bots[0].ID).
		Update("active", false).Error)
	late := f.bot(f.user("late-owner"), "late-bot", false)
	f.join(comp, late, 1600)

	next, err := f.scheduler.NextMatch(f.ctx, NextMatchRequest{ArenaClient: client})
	require.NoError(t, err)
	require.NotNil(t, next.RoundID)
	assert.ElementsMatch(t, []string{bots[1].ID, late.ID},
		[]string{next.Participant(1).BotID, next.Participant(2).BotID})

	assert.Equal(t, int64(2), f.count(&models.Round{}, "competition_id = ?", comp.ID))
	assert.Equal(t, models.MinDivision, f.participation(comp.ID, late.ID).DivisionNum)
	assert.Equal(t, models.DefaultDivision, f.participation(comp.ID, bots[0].ID).DivisionNum)

	var reloaded models.Competition
	require.NoError(t, f.db.Where("id = ?", comp.ID).First(&reloaded).Error)
	assert.Equal(t, 1, reloaded.RoundsThisCycle)
}

func TestGenerateRoundWithoutAnyPairsFails(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("lonely", 1)

	_, err := f.generateRound(comp.ID)
	assert.ErrorIs(t, err, ErrNoPairings)
	assert.Equal(t, int64(0), f.count(&models.Round{}, "competition_id = ?", comp.ID))
}

func TestRebalanceCountsOnlyCountedResults(t *testing.T) {
	f := newFixture(t)
	comp := f.competition("placements", func(c *models.Competition) {
		c.NPlacements = 2
		c.RoundsThisCycle = 5
	})
	a := f.bot(f.user("alice"), "bot-a", false)
	b := f.bot(f.user("bob"), "bot-b", false)
	gone := f.bot(f.user("carol"), "bot-c", false)
	f.join(comp, a, 1600)
	f.join(comp, b, 1700)
	retired := f.join(comp, gone, 1500)
	require.NoError(t, f.db.Model(&retired).Update("active", false).Error)

	gameMap := f.gameMap(&comp.ID, "history-map")
	history := []models.ResultType{models.ResultTie, models.ResultPlayer1Win, models.ResultPlayer2Win, models.ResultMatchCancelled}
	for i, resultType := range history {
		round := models.Round{CompetitionID: comp.ID, Number: i + 1, Started: time.Now().UTC(), Complete: true}
		require.NoError(t, f.db.Create(&round).Error)
		m := models.Match{
			RoundID: &round.ID,
			MapID:   gameMap.ID,
			Participations: []models.MatchParticipation{
				{ParticipantNumber: 1, BotID: b.ID},
				{ParticipantNumber: 2, BotID: gone.ID},
			},
		}
		require.NoError(t, f.db.Create(&m).Error)
		require.NoError(t, f.db.Create(&models.Result{MatchID: m.ID, Type: resultType}).Error)
	}

	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, round.Number)

	pa, pb := f.participation(comp.ID, a.ID), f.participation(comp.ID, b.ID)
	assert.Equal(t, 0, pa.MatchCount)
	assert.True(t, pa.InPlacements)
	assert.Equal(t, 3, pb.MatchCount)
	assert.False(t, pb.InPlacements)
	assert.Equal(t, models.MinDivision, pa.DivisionNum)
	assert.Equal(t, models.MinDivision, pb.DivisionNum)
	assert.Equal(t, models.DefaultDivision, f.participation(comp.ID, gone.ID).DivisionNum)

	matches := f.roundMatches(round.ID)
	require.Len(t, matches, 1)
	var ids []string
	for _, p := range matches[0].Participations {
		ids = append(ids, p.BotID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	var reloaded models.Competition
	require.NoError(t, f.db.Where("id = ?", comp.ID).First(&reloaded).Error)
	assert.Equal(t, 1, reloaded.NDivisions)
	assert.Equal(t, 1, reloaded.RoundsThisCycle)
}

func TestGenerateRoundRequiresMapsAndOpenStatus(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("closed-doors", 2)

	require.NoError(t, f.db.Model(&models.Map{}).Where("competition_id = ?", comp.ID).Update("enabled", false).Error)
	_, err := f.generateRound(comp.ID)
	assert.ErrorIs(t, err, ErrNoMaps)

	require.NoError(t, f.db.Model(&models.Map{}).Where("competition_id = ?", comp.ID).Update("enabled", true).Error)
	require.NoError(t, f.db.Model(&models.Competition{}).Where("id = ?", comp.ID).Update("status", models.CompetitionPaused).Error)
	_, err = f.generateRound(comp.ID)
	assert.ErrorIs(t, err, ErrCompetitionPaused)

	require.NoError(t, f.db.Model(&models.Competition{}).Where("id = ?", comp.ID).Update("status", models.CompetitionClosing).Error)
	_, err = f.generateRound(comp.ID)
	assert.ErrorIs(t, err, ErrCompetitionClosing)

	assert.Equal(t, int64(0), f.count(&models.Round{}, "competition_id = ?", comp.ID))
}

func TestNextCycleRound(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, nextCycleRound(0, 3))
	assert.Equal(t, 2, nextCycleRound(1, 3))
	assert.Equal(t, 3, nextCycleRound(2, 3))
	assert.Equal(t, 1, nextCycleRound(3, 3))
	assert.Equal(t, 1, nextCycleRound(4, 0))
}
