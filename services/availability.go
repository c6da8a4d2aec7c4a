package services

import (
	"arena-ladder/models"

	"gorm.io/gorm"
)

const availabilityBatch = 50

// noResult filters matches that have no result yet.
const noResult = "NOT EXISTS (SELECT 1 FROM results WHERE results.match_id = matches.id)"

// FrozenBots returns the subset of botIDs whose data is held by a started,
// unresolved match that may write it back.
func FrozenBots(tx *gorm.DB, botIDs []string) (map[string]bool, error) {
	frozen := make(map[string]bool)
	if len(botIDs) == 0 {
		return frozen, nil
	}
	var ids []string
	err := tx.Model(&models.MatchParticipation{}).
		Distinct().
		Joins("JOIN matches ON matches.id = match_participations.match_id").
		Where("match_participations.bot_id IN ?", botIDs).
		Where("match_participations.use_bot_data = ? AND match_participations.update_bot_data = ?", true, true).
		Where("matches.started IS NOT NULL").
		Where(noResult).
		Pluck("match_participations.bot_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		frozen[id] = true
	}
	return frozen, nil
}

func IsDataFrozen(tx *gorm.DB, botID string) (bool, error) {
	frozen, err := FrozenBots(tx, []string{botID})
	if err != nil {
		return false, err
	}
	return frozen[botID], nil
}

// EnoughAvailable reports whether at least threshold of botIDs are not frozen.
// It stops querying as soon as the answer is known.
func EnoughAvailable(tx *gorm.DB, botIDs []string, threshold int) (bool, error) {
	if threshold <= 0 {
		return true, nil
	}
	available := 0
	for start := 0; start < len(botIDs); start += availabilityBatch {
		end := min(start+availabilityBatch, len(botIDs))
		batch := botIDs[start:end]
		frozen, err := FrozenBots(tx, batch)
		if err != nil {
			return false, err
		}
		for _, id := range batch {
			if !frozen[id] {
				available++
				if available >= threshold {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// canStart reports whether the participation may start given the frozen set.
// Only participations that write data back need exclusive access.
func canStart(p *models.MatchParticipation, frozen map[string]bool) bool {
	return !p.HoldsBotData() || !frozen[p.BotID]
}
