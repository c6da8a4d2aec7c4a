package services

import (
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arena-ladder/models"
)

// MatchStarter claims queued matches for arena clients.
type MatchStarter struct{}

func NewMatchStarter() *MatchStarter {
	return &MatchStarter{}
}

// StartRequested claims the oldest startable requested match.
func (s *MatchStarter) StartRequested(tx *gorm.DB, client *models.ArenaClient) (*models.Match, error) {
	var candidates []models.Match
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Participations").
		Where("requested_by_id IS NOT NULL AND started IS NULL").
		Where(noResult).
		Order("created_at, id").
		Find(&candidates).Error; err != nil {
		return nil, eris.Wrap(err, "failed to lock requested matches")
	}
	return s.StartFirst(tx, candidates, client)
}

// StartFromRound claims a random startable match of a ladder round.
func (s *MatchStarter) StartFromRound(tx *gorm.DB, roundID string, client *models.ArenaClient) (*models.Match, error) {
	var candidates []models.Match
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Participations").
		Where("round_id = ? AND started IS NULL", roundID).
		Where(noResult).
		Find(&candidates).Error; err != nil {
		return nil, eris.Wrap(err, "failed to lock round matches")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	viable, err := ladderCandidatesViable(tx, candidates)
	if err != nil || !viable {
		return nil, err
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return s.StartFirst(tx, candidates, client)
}

// StartFirst walks candidates in order and returns the first one claimed, or
// nil when none could be started.
func (s *MatchStarter) StartFirst(tx *gorm.DB, candidates []models.Match, client *models.ArenaClient) (*models.Match, error) {
	for i := range candidates {
		ok, err := s.TryStart(tx, &candidates[i], client)
		if err != nil {
			return nil, err
		}
		if ok {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// TryStart moves match from queued to started for client. It reports false
// when the match was claimed elsewhere or one of its bots is unavailable.
func (s *MatchStarter) TryStart(tx *gorm.DB, match *models.Match, client *models.ArenaClient) (bool, error) {
	if match.RequireTrustedArenaClient && !client.Trusted {
		return false, nil
	}
	if len(match.Participations) != 2 {
		return false, nil
	}

	botIDs := []string{match.Participations[0].BotID, match.Participations[1].BotID}
	if err := lockDataBots(tx, match.Participations); err != nil {
		return false, err
	}
	frozen, err := FrozenBots(tx, botIDs)
	if err != nil {
		return false, eris.Wrap(err, "failed to check bot availability")
	}
	for i := range match.Participations {
		if !canStart(&match.Participations[i], frozen) {
			return false, nil
		}
	}

	now := time.Now().UTC()
	res := tx.Model(&models.Match{}).
		Where("id = ? AND started IS NULL", match.ID).
		Updates(map[string]interface{}{
			"started":        now,
			"first_started":  gorm.Expr("COALESCE(first_started, ?)", now),
			"assigned_to_id": client.ID,
		})
	if res.Error != nil {
		return false, eris.Wrap(res.Error, "failed to start match")
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	match.Started = &now
	if match.FirstStarted == nil {
		match.FirstStarted = &now
	}
	match.AssignedToID = &client.ID
	return true, nil
}

// lockDataBots takes the row locks of the bots whose data the match would
// read and write back. A bot competes in several competitions, so the
// competition lock alone does not serialize two starts of the same bot.
func lockDataBots(tx *gorm.DB, participations []models.MatchParticipation) error {
	var ids []string
	for _, p := range participations {
		if p.UseBotData && p.UpdateBotData {
			ids = append(ids, p.BotID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var bots []models.Bot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id IN ?", ids).
		Order("id").
		Find(&bots).Error; err != nil {
		return eris.Wrap(err, "failed to lock bots")
	}
	return nil
}

// ladderCandidatesViable is a cheap precheck over a round's queued matches:
// at least one match must have both participants free and at least two bots
// must be free overall.
func ladderCandidatesViable(tx *gorm.DB, candidates []models.Match) (bool, error) {
	seen := make(map[string]bool)
	var botIDs []string
	for _, m := range candidates {
		for _, p := range m.Participations {
			if !seen[p.BotID] {
				seen[p.BotID] = true
				botIDs = append(botIDs, p.BotID)
			}
		}
	}
	frozen, err := FrozenBots(tx, botIDs)
	if err != nil {
		return false, eris.Wrap(err, "failed to check bot availability")
	}

	free := make(map[string]bool)
	viable := false
	for _, m := range candidates {
		if len(m.Participations) != 2 {
			continue
		}
		p1, p2 := &m.Participations[0], &m.Participations[1]
		ok1, ok2 := canStart(p1, frozen), canStart(p2, frozen)
		if ok1 {
			free[p1.BotID] = true
		}
		if ok2 {
			free[p2.BotID] = true
		}
		viable = viable || (ok1 && ok2)
	}
	return viable && len(free) >= 2, nil
}
