package services

import (
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arena-ladder/models"
)

// Pair is one generated pairing inside a division.
type Pair struct {
	Player1 models.CompetitionParticipation
	Player2 models.CompetitionParticipation
}

// RoundService generates ladder rounds. Callers hold the competition lock.
type RoundService struct {
	logger zerolog.Logger
}

func NewRoundService() *RoundService {
	return &RoundService{logger: log.With().Str("component", "rounds").Logger()}
}

// GenerateRound creates the next round of comp with a full round robin inside
// every division. comp must have been loaded with a row lock in tx.
func (s *RoundService) GenerateRound(tx *gorm.DB, comp *models.Competition) (*models.Round, error) {
	switch comp.Status {
	case models.CompetitionOpen:
	case models.CompetitionPaused:
		return nil, ErrCompetitionPaused
	case models.CompetitionClosing:
		return nil, ErrCompetitionClosing
	default:
		return nil, errCompetitionUnavailable
	}

	var maps []models.Map
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("competition_id = ? AND enabled = ?", comp.ID, true).
		Order("id").
		Find(&maps).Error; err != nil {
		return nil, eris.Wrap(err, "failed to lock maps")
	}
	if len(maps) == 0 {
		return nil, ErrNoMaps
	}

	var lastNumber int
	if err := tx.Model(&models.Round{}).
		Where("competition_id = ?", comp.ID).
		Select("COALESCE(MAX(number), 0)").
		Scan(&lastNumber).Error; err != nil {
		return nil, eris.Wrap(err, "failed to read round number")
	}

	now := time.Now().UTC()
	round := models.Round{
		CompetitionID: comp.ID,
		Number:        lastNumber + 1,
		Started:       now,
	}

	comp.RoundsThisCycle = nextCycleRound(comp.RoundsThisCycle, comp.RoundsPerCycle)
	rebalanced := comp.RoundsThisCycle == 1
	if rebalanced {
		if err := s.rebalanceDivisions(tx, comp, round.Number == 1); err != nil {
			return nil, err
		}
	}

	participants, err := placedParticipants(tx, comp.ID)
	if err != nil {
		return nil, err
	}
	pairs, included := divisionPairs(participants)

	// Leavers can strand the placed divisions mid-cycle while newcomers wait
	// in the default division. Start a new cycle so they get placed.
	if len(pairs) == 0 && !rebalanced {
		comp.RoundsThisCycle = 1
		if err := s.rebalanceDivisions(tx, comp, round.Number == 1); err != nil {
			return nil, err
		}
		if participants, err = placedParticipants(tx, comp.ID); err != nil {
			return nil, err
		}
		pairs, included = divisionPairs(participants)
	}
	if len(pairs) == 0 {
		return nil, ErrNoPairings
	}

	if err := tx.Create(&round).Error; err != nil {
		return nil, eris.Wrap(err, "failed to create round")
	}

	matches := make([]models.Match, 0, len(pairs))
	for _, p := range pairs {
		m := maps[rand.IntN(len(maps))]
		matches = append(matches, models.Match{
			RoundID:                   &round.ID,
			MapID:                     m.ID,
			RequireTrustedArenaClient: comp.RequireTrustedInfrastructure,
			Participations: []models.MatchParticipation{
				ladderParticipation(1, p.Player1.Bot),
				ladderParticipation(2, p.Player2.Bot),
			},
		})
	}
	if err := tx.Create(&matches).Error; err != nil {
		return nil, eris.Wrap(err, "failed to create matches")
	}

	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("competition_id = ?", comp.ID).
		Update("participated_in_most_recent_round", false).Error; err != nil {
		return nil, eris.Wrap(err, "failed to clear round participation")
	}
	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("id IN ?", included).
		Update("participated_in_most_recent_round", true).Error; err != nil {
		return nil, eris.Wrap(err, "failed to mark round participation")
	}

	if err := tx.Model(&models.Competition{}).
		Where("id = ?", comp.ID).
		Updates(map[string]interface{}{
			"rounds_this_cycle": comp.RoundsThisCycle,
			"n_divisions":       comp.NDivisions,
		}).Error; err != nil {
		return nil, eris.Wrap(err, "failed to update competition")
	}

	s.logger.Info().
		Str("competition_id", comp.ID).
		Int("round", round.Number).
		Int("matches", len(matches)).
		Int("divisions", comp.NDivisions).
		Msg("[Rounds] generated round")
	return &round, nil
}

func nextCycleRound(current, perCycle int) int {
	if perCycle <= 0 || current >= perCycle {
		return 1
	}
	return current + 1
}

// placedParticipants loads the active participants that hold a division.
func placedParticipants(tx *gorm.DB, competitionID string) ([]models.CompetitionParticipation, error) {
	var participants []models.CompetitionParticipation
	if err := tx.Preload("Bot").
		Where("competition_id = ? AND active = ? AND division_num >= ?", competitionID, true, models.MinDivision).
		Order("division_num, id").
		Find(&participants).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load participants")
	}
	return participants, nil
}

// divisionPairs pairs every participant with every later participant of the
// same division. participants must be ordered by division.
func divisionPairs(participants []models.CompetitionParticipation) ([]Pair, []string) {
	var pairs []Pair
	var included []string
	for start := 0; start < len(participants); {
		end := start
		for end < len(participants) && participants[end].DivisionNum == participants[start].DivisionNum {
			end++
		}
		var members []models.CompetitionParticipation
		for _, p := range participants[start:end] {
			if p.Bot != nil {
				members = append(members, p)
			}
		}
		for i := 0; i < len(members); i++ {
			included = append(included, members[i].ID)
			for j := i + 1; j < len(members); j++ {
				pairs = append(pairs, Pair{Player1: members[i], Player2: members[j]})
			}
		}
		start = end
	}
	return pairs, included
}

func ladderParticipation(number int, bot *models.Bot) models.MatchParticipation {
	return models.MatchParticipation{
		ParticipantNumber: number,
		BotID:             bot.ID,
		UseBotData:        bot.BotDataEnabled,
		UpdateBotData:     bot.BotDataEnabled,
	}
}

type botMatchCount struct {
	BotID string
	N     int
}

// rebalanceDivisions reassigns divisions for every active participant and
// parks inactive ones in the default division.
func (s *RoundService) rebalanceDivisions(tx *gorm.DB, comp *models.Competition, firstRound bool) error {
	var participants []models.CompetitionParticipation
	if err := tx.Where("competition_id = ? AND active = ?", comp.ID, true).
		Find(&participants).Error; err != nil {
		return eris.Wrap(err, "failed to load participants")
	}

	var counts []botMatchCount
	if err := tx.Table("match_participations").
		Select("match_participations.bot_id AS bot_id, COUNT(*) AS n").
		Joins("JOIN matches ON matches.id = match_participations.match_id").
		Joins("JOIN rounds ON rounds.id = matches.round_id").
		Joins("JOIN results ON results.match_id = matches.id").
		Where("rounds.competition_id = ?", comp.ID).
		Where("results.type NOT IN ?", models.NonCountingResultTypes).
		Group("match_participations.bot_id").
		Scan(&counts).Error; err != nil {
		return eris.Wrap(err, "failed to count matches")
	}
	byBot := make(map[string]int, len(counts))
	for _, c := range counts {
		byBot[c.BotID] = c.N
	}

	candidates := make([]DivisionCandidate, 0, len(participants))
	byID := make(map[string]models.CompetitionParticipation, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
		candidates = append(candidates, DivisionCandidate{
			ParticipationID: p.ID,
			Elo:             p.Elo,
			MatchCount:      byBot[p.BotID],
		})
	}

	nDivisions, assignments := BalanceDivisions(comp, candidates, firstRound)
	comp.NDivisions = nDivisions

	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("competition_id = ? AND active = ?", comp.ID, false).
		Update("division_num", models.DefaultDivision).Error; err != nil {
		return eris.Wrap(err, "failed to reset inactive divisions")
	}
	if len(assignments) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]models.CompetitionParticipation, 0, len(assignments))
	for _, a := range assignments {
		p := byID[a.ParticipationID]
		p.DivisionNum = a.DivisionNum
		p.InPlacements = a.InPlacements
		p.MatchCount = a.MatchCount
		p.UpdatedAt = now
		rows = append(rows, p)
	}
	if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"division_num", "in_placements", "match_count", "updated_at"}),
	}).Create(&rows).Error; err != nil {
		return eris.Wrap(err, "failed to update divisions")
	}

	s.logger.Debug().
		Str("competition_id", comp.ID).
		Int("participants", len(rows)).
		Int("divisions", nDivisions).
		Msg("[Rounds] rebalanced divisions")
	return nil
}
