package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// All lists every model managed by Migrate, in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Bot{},
		&ArenaClient{},
		&Competition{},
		&Map{},
		&MapPool{},
		&CompetitionParticipation{},
		&Round{},
		&Match{},
		&MatchParticipation{},
		&Result{},
		&MatchTag{},
		&BotCrashLimitAlert{},
		&SiteSetting{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
