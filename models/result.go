package models

import (
	"gorm.io/gorm"
)

type ResultType string

const (
	ResultInitializationError ResultType = "InitializationError"
	ResultError               ResultType = "Error"
	ResultMatchCancelled      ResultType = "MatchCancelled"
	ResultTie                 ResultType = "Tie"
	ResultPlayer1Win          ResultType = "Player1Win"
	ResultPlayer2Win          ResultType = "Player2Win"
	ResultPlayer1Crash        ResultType = "Player1Crash"
	ResultPlayer2Crash        ResultType = "Player2Crash"
	ResultPlayer1TimeOut      ResultType = "Player1TimeOut"
	ResultPlayer2TimeOut      ResultType = "Player2TimeOut"
	ResultPlayer1Surrender    ResultType = "Player1Surrender"
	ResultPlayer2Surrender    ResultType = "Player2Surrender"
	ResultPlayer1RaceMismatch ResultType = "Player1RaceMismatch"
	ResultPlayer2RaceMismatch ResultType = "Player2RaceMismatch"
)

// NonCountingResultTypes don't count towards a participant's match count.
var NonCountingResultTypes = []ResultType{ResultMatchCancelled, ResultInitializationError, ResultError}

func (t ResultType) Valid() bool {
	switch t {
	case ResultInitializationError, ResultError, ResultMatchCancelled, ResultTie,
		ResultPlayer1Win, ResultPlayer2Win, ResultPlayer1Crash, ResultPlayer2Crash,
		ResultPlayer1TimeOut, ResultPlayer2TimeOut, ResultPlayer1Surrender, ResultPlayer2Surrender,
		ResultPlayer1RaceMismatch, ResultPlayer2RaceMismatch:
		return true
	}
	return false
}

// Winner returns the participant number that won, or 0 when nobody did.
func (t ResultType) Winner() int {
	switch t {
	case ResultPlayer1Win, ResultPlayer2Crash, ResultPlayer2TimeOut, ResultPlayer2Surrender, ResultPlayer2RaceMismatch:
		return 1
	case ResultPlayer2Win, ResultPlayer1Crash, ResultPlayer1TimeOut, ResultPlayer1Surrender, ResultPlayer1RaceMismatch:
		return 2
	}
	return 0
}

// Decisive reports whether the result affects ratings.
func (t ResultType) Decisive() bool {
	return t.Winner() != 0 || t == ResultTie
}

// ParticipantResult is the outcome from the point of view of participant number.
func (t ResultType) ParticipantResult(number int) ParticipationResult {
	if t == ResultTie {
		return ParticipationTie
	}
	winner := t.Winner()
	switch {
	case winner == 0:
		return ParticipationNone
	case winner == number:
		return ParticipationWin
	default:
		return ParticipationLoss
	}
}

// ParticipantCause explains the outcome for participant number.
func (t ResultType) ParticipantCause(number int) ResultCause {
	switch t {
	case ResultPlayer1Win, ResultPlayer2Win, ResultPlayer1Surrender, ResultPlayer2Surrender, ResultTie:
		return CauseGameRules
	case ResultPlayer1Crash, ResultPlayer2Crash:
		return CauseCrash
	case ResultPlayer1TimeOut, ResultPlayer2TimeOut:
		return CauseTimeout
	case ResultPlayer1RaceMismatch, ResultPlayer2RaceMismatch:
		return CauseRaceMismatch
	case ResultMatchCancelled:
		return CauseMatchCancelled
	case ResultInitializationError:
		return CauseInitializationFailure
	}
	return CauseError
}

// Score is the rating outcome for participant 1: 1 win, 0 loss, 0.5 tie.
func (t ResultType) Score() float64 {
	switch t.Winner() {
	case 1:
		return 1
	case 2:
		return 0
	}
	return 0.5
}

// Result is the single, immutable outcome of a match.
type Result struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	MatchID       string     `gorm:"uniqueIndex;not null" json:"match_id"`
	Type          ResultType `gorm:"type:varchar(32);not null;index" json:"type"`
	GameSteps     int        `json:"game_steps"`
	SubmittedByID *string    `json:"submitted_by_id,omitempty"`
	ReplayKey     *string    `json:"replay_key,omitempty"`

	Timestamps
}

func (r *Result) BeforeCreate(_ *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
