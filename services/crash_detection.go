package services

import (
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"arena-ladder/models"
	"arena-ladder/notify"
)

// checkConsecutiveCrashes records an alert when the bot's last limit counted
// results since its data was last updated are all crashes. A streak that
// already produced an alert does not produce another. The returned alert is
// nil when nothing should be sent.
func checkConsecutiveCrashes(tx *gorm.DB, bot *models.Bot, limit int) (*notify.CrashAlert, error) {
	if limit < 1 {
		return nil, nil
	}

	var active int64
	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("bot_id = ? AND active = ?", bot.ID, true).
		Count(&active).Error; err != nil {
		return nil, eris.Wrap(err, "failed to check bot activity")
	}
	if active == 0 {
		return nil, nil
	}

	q := tx.Model(&models.MatchParticipation{}).
		Select("match_participations.*").
		Joins("JOIN results ON results.match_id = match_participations.match_id").
		Where("match_participations.bot_id = ?", bot.ID).
		Where("results.type NOT IN ?", models.NonCountingResultTypes)
	if bot.DataUpdatedAt != nil {
		q = q.Where("results.created_at > ?", *bot.DataUpdatedAt)
	}
	var recent []models.MatchParticipation
	if err := q.Order("results.created_at DESC").Limit(limit).Find(&recent).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load recent results")
	}
	if len(recent) < limit {
		return nil, nil
	}

	ids := make([]string, 0, len(recent))
	for i := range recent {
		if !recent[i].Crashed() {
			return nil, nil
		}
		ids = append(ids, recent[i].ID)
	}

	var alerted int64
	if err := tx.Model(&models.BotCrashLimitAlert{}).
		Where("triggering_participation_id IN ?", ids).
		Count(&alerted).Error; err != nil {
		return nil, eris.Wrap(err, "failed to check previous alerts")
	}
	if alerted > 0 {
		return nil, nil
	}

	if err := tx.Create(&models.BotCrashLimitAlert{
		BotID:                     bot.ID,
		TriggeringParticipationID: recent[0].ID,
	}).Error; err != nil {
		return nil, eris.Wrap(err, "failed to record crash alert")
	}

	var owner models.User
	ownerName := bot.UserID
	if err := tx.Where("id = ?", bot.UserID).First(&owner).Error; err == nil {
		ownerName = owner.Username
	}
	return &notify.CrashAlert{
		BotID:     bot.ID,
		BotName:   bot.Name,
		OwnerName: ownerName,
		Crashes:   limit,
	}, nil
}
