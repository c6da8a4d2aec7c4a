package models

import (
	"time"

	"gorm.io/gorm"
)

// Bot is a competitor uploaded by a user. Its learning data blob lives in the
// blob store under BotDataKey().
type Bot struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"index;not null" json:"user_id"`
	Name           string     `gorm:"uniqueIndex;not null" json:"name"`
	Race           string     `gorm:"type:varchar(16)" json:"race"`
	BotDataEnabled bool       `json:"bot_data_enabled"`
	DataUpdatedAt  *time.Time `json:"data_updated_at,omitempty"`

	Timestamps
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *Bot) BeforeCreate(_ *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

func (b *Bot) BotDataKey() string {
	return "bot-data/" + b.ID + ".zip"
}

// ArenaClient is a worker that polls for matches and runs them.
type ArenaClient struct {
	ID       string     `gorm:"primaryKey" json:"id"`
	Name     string     `gorm:"uniqueIndex;not null" json:"name"`
	Token    string     `gorm:"uniqueIndex;not null" json:"-"`
	Trusted  bool       `json:"trusted"`
	Active   bool       `json:"active"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	Timestamps
}

func (a *ArenaClient) BeforeCreate(_ *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
