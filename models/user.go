package models

import "gorm.io/gorm"

// User is a local snapshot of the account owning bots and requesting matches.
// Identity itself is managed by the upstream profile service.
type User struct {
	ID             string `gorm:"primaryKey" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string `gorm:"index;not null" json:"username"`
	IsBanned       bool   `json:"is_banned"`

	Timestamps
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
