package services

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arena-ladder/config"
	"arena-ladder/models"
)

type OutcomeKind int

const (
	OutcomeStarted OutcomeKind = iota
	OutcomeSkipped
	OutcomeExhausted
)

type SkipReason string

const (
	SkipNoMaps                 SkipReason = "no_maps"
	SkipNotEnoughAvailableBots SkipReason = "not_enough_available_bots"
	SkipMaxActiveRounds        SkipReason = "max_active_rounds"
	SkipCompetitionPaused      SkipReason = "competition_paused"
	SkipCompetitionClosing     SkipReason = "competition_closing"
	SkipNoPairings             SkipReason = "no_pairings"
	SkipUntrustedClient        SkipReason = "untrusted_client"
	SkipNotEnoughParticipants  SkipReason = "not_enough_participants"
	SkipCompetitionUnavailable SkipReason = "competition_unavailable"
)

// ScheduleOutcome is the result of trying one source of work.
type ScheduleOutcome struct {
	Kind  OutcomeKind
	Match *models.Match
	Skip  SkipReason
}

func started(m *models.Match) ScheduleOutcome { return ScheduleOutcome{Kind: OutcomeStarted, Match: m} }
func skipped(r SkipReason) ScheduleOutcome    { return ScheduleOutcome{Kind: OutcomeSkipped, Skip: r} }

var skipReasons = []struct {
	err    error
	reason SkipReason
}{
	{ErrNoMaps, SkipNoMaps},
	{ErrNotEnoughAvailableBots, SkipNotEnoughAvailableBots},
	{ErrMaxActiveRounds, SkipMaxActiveRounds},
	{ErrCompetitionPaused, SkipCompetitionPaused},
	{ErrCompetitionClosing, SkipCompetitionClosing},
	{ErrNoPairings, SkipNoPairings},
	{errUntrustedClient, SkipUntrustedClient},
	{errNotEnoughParticipants, SkipNotEnoughParticipants},
	{errCompetitionUnavailable, SkipCompetitionUnavailable},
}

func skipReasonFor(err error) (SkipReason, bool) {
	for _, s := range skipReasons {
		if errors.Is(err, s.err) {
			return s.reason, true
		}
	}
	return "", false
}

type NextMatchRequest struct {
	ArenaClient    *models.ArenaClient
	// OnlyUnfinished returns a reissued unfinished match or nothing.
	OnlyUnfinished bool
	// SkipReissue is set when the client just gave up on its previous match.
	SkipReissue    bool
}

// SchedulerService hands out matches to polling arena clients.
type SchedulerService struct {
	DB       *gorm.DB
	Config   config.Provider
	Priority *PriorityService
	Rounds   *RoundService
	Starter  *MatchStarter
	logger   zerolog.Logger
}

func NewSchedulerService(db *gorm.DB, cfg config.Provider, priority *PriorityService, rounds *RoundService, starter *MatchStarter) *SchedulerService {
	return &SchedulerService{
		DB:       db,
		Config:   cfg,
		Priority: priority,
		Rounds:   rounds,
		Starter:  starter,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
}

// NextMatch finds work for the arena client. It returns ErrNoGameAvailable
// when nothing can be started.
func (s *SchedulerService) NextMatch(ctx context.Context, req NextMatchRequest) (*models.Match, error) {
	settings := s.Config.Settings()
	if !settings.LadderEnabled {
		return nil, ErrLadderDisabled
	}
	client := req.ArenaClient

	if settings.ReissueUnfinishedMatches && !req.SkipReissue {
		m, err := s.unfinishedMatch(ctx, client)
		if err != nil {
			return nil, err
		}
		if m != nil {
			s.logger.Info().Str("match_id", m.ID).Str("arena_client", client.Name).Msg("[Scheduler] reissuing unfinished match")
			return s.loadForClient(ctx, m.ID)
		}
	}
	if req.OnlyUnfinished {
		return nil, ErrNoGameAvailable
	}

	outcome, err := s.nextRequested(ctx, client)
	if err != nil {
		return nil, err
	}
	if outcome.Kind == OutcomeStarted {
		return s.loadForClient(ctx, outcome.Match.ID)
	}

	outcome, err = s.nextFromCompetitions(ctx, client)
	if err != nil {
		return nil, err
	}
	if outcome.Kind == OutcomeStarted {
		return s.loadForClient(ctx, outcome.Match.ID)
	}
	return nil, ErrNoGameAvailable
}

func (s *SchedulerService) unfinishedMatch(ctx context.Context, client *models.ArenaClient) (*models.Match, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).
		Select("matches.*").
		Joins("LEFT JOIN rounds ON rounds.id = matches.round_id").
		Where("matches.assigned_to_id = ? AND matches.started IS NOT NULL", client.ID).
		Where(noResult).
		Order("COALESCE(rounds.number, 0), matches.started").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to look up unfinished matches")
	}
	return &m, nil
}

func (s *SchedulerService) nextRequested(ctx context.Context, client *models.ArenaClient) (ScheduleOutcome, error) {
	var m *models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = s.Starter.StartRequested(tx, client)
		return err
	})
	if err != nil {
		return ScheduleOutcome{}, err
	}
	if m == nil {
		return ScheduleOutcome{Kind: OutcomeExhausted}, nil
	}
	return started(m), nil
}

// nextFromCompetitions tries each competition in priority order. Each attempt
// runs in its own transaction so one competition's lock is released before
// the next is taken.
func (s *SchedulerService) nextFromCompetitions(ctx context.Context, client *models.ArenaClient) (ScheduleOutcome, error) {
	order, err := s.Priority.Order(ctx)
	if err != nil {
		return ScheduleOutcome{}, err
	}
	for _, id := range order {
		outcome, err := s.attemptCompetition(ctx, id, client)
		if err != nil {
			return ScheduleOutcome{}, err
		}
		switch outcome.Kind {
		case OutcomeStarted:
			return outcome, nil
		case OutcomeSkipped:
			s.logger.Debug().Str("competition_id", id).Str("reason", string(outcome.Skip)).Msg("[Scheduler] skipping competition")
		}
	}
	return ScheduleOutcome{Kind: OutcomeExhausted}, nil
}

func (s *SchedulerService) attemptCompetition(ctx context.Context, competitionID string, client *models.ArenaClient) (ScheduleOutcome, error) {
	var m *models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = s.startInCompetition(tx, competitionID, client)
		return err
	})
	if err != nil {
		if reason, ok := skipReasonFor(err); ok {
			return skipped(reason), nil
		}
		return ScheduleOutcome{}, err
	}
	return started(m), nil
}

func (s *SchedulerService) startInCompetition(tx *gorm.DB, competitionID string, client *models.ArenaClient) (*models.Match, error) {
	var comp models.Competition
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", competitionID).
		First(&comp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errCompetitionUnavailable
		}
		return nil, eris.Wrap(err, "failed to lock competition")
	}
	if !schedulable(comp.Status) {
		return nil, errCompetitionUnavailable
	}
	if comp.RequireTrustedInfrastructure && !client.Trusted {
		return nil, errUntrustedClient
	}

	var botIDs []string
	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("competition_id = ? AND active = ?", comp.ID, true).
		Order("id").
		Pluck("bot_id", &botIDs).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load active participants")
	}
	if len(botIDs) < 2 {
		return nil, errNotEnoughParticipants
	}

	var rounds []models.Round
	if err := tx.Where("competition_id = ? AND complete = ?", comp.ID, false).
		Where("EXISTS (SELECT 1 FROM matches WHERE matches.round_id = rounds.id AND matches.started IS NULL)").
		Order("number").
		Find(&rounds).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load open rounds")
	}
	for _, r := range rounds {
		m, err := s.Starter.StartFromRound(tx, r.ID, client)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	ok, err := EnoughAvailable(tx, botIDs, 2)
	if err != nil {
		return nil, eris.Wrap(err, "failed to check bot availability")
	}
	if !ok {
		return nil, ErrNotEnoughAvailableBots
	}

	var activeRounds int64
	if err := tx.Model(&models.Round{}).
		Where("competition_id = ? AND complete = ?", comp.ID, false).
		Count(&activeRounds).Error; err != nil {
		return nil, eris.Wrap(err, "failed to count active rounds")
	}
	if comp.MaxActiveRounds > 0 && activeRounds >= int64(comp.MaxActiveRounds) {
		return nil, ErrMaxActiveRounds
	}

	round, err := s.Rounds.GenerateRound(tx, &comp)
	if err != nil {
		return nil, err
	}
	m, err := s.Starter.StartFromRound(tx, round.ID, client)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.Wrapf(ErrStartFailed, "competition %s round %d", comp.ID, round.Number)
	}
	return m, nil
}

func schedulable(status models.CompetitionStatus) bool {
	for _, s := range models.SchedulableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// loadForClient reloads a claimed match with what the arena client needs.
func (s *SchedulerService) loadForClient(ctx context.Context, matchID string) (*models.Match, error) {
	var m models.Match
	if err := s.DB.WithContext(ctx).
		Preload("Map").
		Preload("Round").
		Preload("Participations", func(db *gorm.DB) *gorm.DB { return db.Order("participant_number") }).
		Preload("Participations.Bot").
		Where("id = ?", matchID).
		First(&m).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load match")
	}
	return &m, nil
}
