package services

import "github.com/rotisserie/eris"

// Scheduling skips. These never leave the scheduler.
var (
	ErrNoMaps                 = eris.New("competition has no active maps")
	ErrNotEnoughAvailableBots = eris.New("not enough available bots")
	ErrMaxActiveRounds        = eris.New("competition has reached its maximum active rounds")
	ErrCompetitionPaused      = eris.New("competition is paused")
	ErrCompetitionClosing     = eris.New("competition is closing")
	ErrNoPairings             = eris.New("no pairings possible in any division")
	errUntrustedClient        = eris.New("competition requires trusted infrastructure")
	errNotEnoughParticipants  = eris.New("competition has fewer than two active participants")
	errCompetitionUnavailable = eris.New("competition is not accepting matches")
)

// Request errors.
var (
	ErrLadderDisabled       = eris.New("ladder is disabled")
	ErrNoGameAvailable      = eris.New("no game available")
	ErrStartFailed          = eris.New("failed to start a match from a new round")
	ErrMatchNotFound        = eris.New("match not found")
	ErrResultAlreadyExists  = eris.New("match already has a result")
	ErrBotNotInMatch        = eris.New("bot is no longer registered in this match")
	ErrInvalidResult        = eris.New("invalid result")
	ErrNotAssigned          = eris.New("match is not assigned to this arena client")
	ErrNotPermitted         = eris.New("not permitted")
	ErrRoundAlreadyComplete = eris.New("round is already complete")
	ErrRoundNotFinished     = eris.New("round still has unresolved matches")
	ErrCompetitionNotFound  = eris.New("competition not found")
	ErrInvalidTransition    = eris.New("invalid competition status transition")
	ErrBotNotFound          = eris.New("bot not found")
	ErrMapNotFound          = eris.New("map not found")
	ErrInvalidRequest       = eris.New("invalid match request")
	ErrNoOpponent           = eris.New("no opponent available")
	ErrBotDataNotAvailable  = eris.New("bot data not available for this participant")
)
