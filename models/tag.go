package models

import "gorm.io/gorm"

// MatchTag is a free-text label a user attached to a match.
type MatchTag struct {
	ID      string `gorm:"primaryKey" json:"id"`
	MatchID string `gorm:"uniqueIndex:idx_match_tag;not null" json:"match_id"`
	UserID  string `gorm:"uniqueIndex:idx_match_tag;not null" json:"user_id"`
	Tag     string `gorm:"uniqueIndex:idx_match_tag;type:varchar(32);not null" json:"tag"`

	Timestamps
}

func (t *MatchTag) BeforeCreate(_ *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// BotCrashLimitAlert records a crash streak that already alerted the owner.
type BotCrashLimitAlert struct {
	ID                        string `gorm:"primaryKey" json:"id"`
	BotID                     string `gorm:"index;not null" json:"bot_id"`
	TriggeringParticipationID string `gorm:"uniqueIndex;not null" json:"triggering_participation_id"`

	Timestamps
}

func (a *BotCrashLimitAlert) BeforeCreate(_ *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// SiteSetting is an operator override for a configuration flag.
type SiteSetting struct {
	Key   string `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value string `gorm:"not null" json:"value"`

	Timestamps
}
