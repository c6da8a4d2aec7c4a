package models

import (
	"time"

	"gorm.io/gorm"
)

type CompetitionStatus string

const (
	CompetitionCreated CompetitionStatus = "created"
	CompetitionFrozen  CompetitionStatus = "frozen"
	CompetitionPaused  CompetitionStatus = "paused"
	CompetitionOpen    CompetitionStatus = "open"
	CompetitionClosing CompetitionStatus = "closing"
	CompetitionClosed  CompetitionStatus = "closed"
)

func (s CompetitionStatus) Valid() bool {
	switch s {
	case CompetitionCreated, CompetitionFrozen, CompetitionPaused,
		CompetitionOpen, CompetitionClosing, CompetitionClosed:
		return true
	}
	return false
}

// SchedulableStatuses are the statuses a competition can be in while the
// scheduler still considers it for work.
var SchedulableStatuses = []CompetitionStatus{CompetitionOpen, CompetitionClosing, CompetitionPaused}

const (
	// DefaultDivision marks participants that are inactive or not yet placed.
	DefaultDivision = 0
	// MinDivision is the strongest division.
	MinDivision = 1
)

type Competition struct {
	ID     string            `gorm:"primaryKey" json:"id"`
	Name   string            `gorm:"uniqueIndex;not null" json:"name"`
	Status CompetitionStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	RoundsThisCycle    int `json:"rounds_this_cycle"`
	RoundsPerCycle     int `json:"rounds_per_cycle"`
	MaxActiveRounds    int `json:"max_active_rounds"`
	NDivisions         int `json:"n_divisions"`
	TargetNDivisions   int `json:"target_n_divisions"`
	TargetDivisionSize int `json:"target_division_size"`
	NPlacements        int `json:"n_placements"`

	RequireTrustedInfrastructure bool `json:"require_trusted_infrastructure"`

	DateOpened *time.Time `json:"date_opened,omitempty"`
	DateClosed *time.Time `json:"date_closed,omitempty"`

	Timestamps
}

func (c *Competition) BeforeCreate(_ *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CompetitionParticipation is a bot's entry in a competition.
type CompetitionParticipation struct {
	ID            string `gorm:"primaryKey" json:"id"`
	CompetitionID string `gorm:"uniqueIndex:idx_participation_competition_bot;not null" json:"competition_id"`
	BotID         string `gorm:"uniqueIndex:idx_participation_competition_bot;not null" json:"bot_id"`

	Elo          int  `gorm:"not null" json:"elo"`
	HighestElo   int  `json:"highest_elo"`
	Active       bool `gorm:"index" json:"active"`
	DivisionNum  int  `json:"division_num"`
	InPlacements bool `json:"in_placements"`

	ParticipatedInMostRecentRound bool `json:"participated_in_most_recent_round"`

	// Engagement
	MatchCount int     `json:"match_count"`
	WinCount   int     `json:"win_count"`
	LossCount  int     `json:"loss_count"`
	TieCount   int     `json:"tie_count"`
	CrashCount int     `json:"crash_count"`
	WinPerc    float64 `json:"win_perc"`
	CrashPerc  float64 `json:"crash_perc"`

	Bot *Bot `gorm:"foreignKey:BotID" json:"bot,omitempty"`

	Timestamps
}

func (p *CompetitionParticipation) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Round groups the matches generated in one scheduling pass of a competition.
type Round struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	CompetitionID string     `gorm:"uniqueIndex:idx_round_competition_number;not null" json:"competition_id"`
	Number        int        `gorm:"uniqueIndex:idx_round_competition_number;not null" json:"number"`
	Started       time.Time  `json:"started"`
	Finished      *time.Time `json:"finished,omitempty"`
	Complete      bool       `gorm:"index" json:"complete"`

	Timestamps
}

func (r *Round) BeforeCreate(_ *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

type Map struct {
	ID            string  `gorm:"primaryKey" json:"id"`
	Name          string  `gorm:"not null" json:"name"`
	CompetitionID *string `gorm:"index" json:"competition_id,omitempty"` // nil = only usable by requests
	Enabled       bool    `json:"enabled"`

	Timestamps
}

func (m *Map) BeforeCreate(_ *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

type MapPool struct {
	ID   string `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
	Maps []Map  `gorm:"many2many:map_pool_maps" json:"maps,omitempty"`

	Timestamps
}

func (p *MapPool) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
