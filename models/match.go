package models

import (
	"time"

	"gorm.io/gorm"
)

// Match is a single game between two bots. Ladder matches belong to a round;
// requested matches carry RequestedByID instead.
type Match struct {
	ID            string  `gorm:"primaryKey" json:"id"`
	RoundID       *string `gorm:"index" json:"round_id,omitempty"`
	RequestedByID *string `gorm:"index" json:"requested_by_id,omitempty"`
	MapID         string  `gorm:"not null" json:"map_id"`

	Started      *time.Time `gorm:"index" json:"started,omitempty"`
	FirstStarted *time.Time `json:"first_started,omitempty"`
	AssignedToID *string    `gorm:"index" json:"assigned_to_id,omitempty"`

	RequireTrustedArenaClient bool `json:"require_trusted_arenaclient"`

	Round          *Round               `gorm:"foreignKey:RoundID" json:"round,omitempty"`
	Map            *Map                 `gorm:"foreignKey:MapID" json:"map,omitempty"`
	Participations []MatchParticipation `gorm:"foreignKey:MatchID" json:"participations,omitempty"`
	Result         *Result              `gorm:"foreignKey:MatchID" json:"result,omitempty"`

	Timestamps
}

func (m *Match) BeforeCreate(_ *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

func (m *Match) IsRequested() bool {
	return m.RequestedByID != nil
}

// Participant returns the participation with the given number (1 or 2).
func (m *Match) Participant(number int) *MatchParticipation {
	for i := range m.Participations {
		if m.Participations[i].ParticipantNumber == number {
			return &m.Participations[i]
		}
	}
	return nil
}

type ParticipationResult string

const (
	ParticipationNone ParticipationResult = "none"
	ParticipationWin  ParticipationResult = "win"
	ParticipationLoss ParticipationResult = "loss"
	ParticipationTie  ParticipationResult = "tie"
)

type ResultCause string

const (
	CauseGameRules             ResultCause = "game_rules"
	CauseCrash                 ResultCause = "crash"
	CauseTimeout               ResultCause = "timeout"
	CauseRaceMismatch          ResultCause = "race_mismatch"
	CauseMatchCancelled        ResultCause = "match_cancelled"
	CauseInitializationFailure ResultCause = "initialization_failure"
	CauseError                 ResultCause = "error"
)

type MatchParticipation struct {
	ID                string `gorm:"primaryKey" json:"id"`
	MatchID           string `gorm:"uniqueIndex:idx_match_participant;not null" json:"match_id"`
	ParticipantNumber int    `gorm:"uniqueIndex:idx_match_participant;not null" json:"participant_number"`
	BotID             string `gorm:"index;not null" json:"bot_id"`

	UseBotData    bool `json:"use_bot_data"`
	UpdateBotData bool `json:"update_bot_data"`

	StartingElo  *int `json:"starting_elo,omitempty"`
	ResultantElo *int `json:"resultant_elo,omitempty"`
	EloChange    *int `json:"elo_change,omitempty"`

	Result      *ParticipationResult `gorm:"type:varchar(8)" json:"result,omitempty"`
	ResultCause *ResultCause         `gorm:"type:varchar(32)" json:"result_cause,omitempty"`
	AvgStepTime *float64             `json:"avg_step_time,omitempty"`
	MatchLogKey *string              `json:"match_log_key,omitempty"`

	Bot *Bot `gorm:"foreignKey:BotID" json:"bot,omitempty"`

	Timestamps
}

func (p *MatchParticipation) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Crashed reports whether the participant lost because its bot failed.
func (p *MatchParticipation) Crashed() bool {
	if p.Result == nil || p.ResultCause == nil || *p.Result != ParticipationLoss {
		return false
	}
	switch *p.ResultCause {
	case CauseCrash, CauseTimeout, CauseInitializationFailure:
		return true
	}
	return false
}

// HoldsBotData reports whether this participation holds exclusive access to
// the bot's data blob.
func (p *MatchParticipation) HoldsBotData() bool {
	return p.UseBotData && p.UpdateBotData
}
