package services

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arena-ladder/models"
)

// StatusChangeHook runs after a competition status change commits.
type StatusChangeHook func(ctx context.Context, comp *models.Competition)

// CompetitionService owns competition status and round completion.
type CompetitionService struct {
	DB     *gorm.DB
	hooks  []StatusChangeHook
	logger zerolog.Logger
}

func NewCompetitionService(db *gorm.DB) *CompetitionService {
	return &CompetitionService{
		DB:     db,
		logger: log.With().Str("component", "competitions").Logger(),
	}
}

func (s *CompetitionService) OnStatusChange(h StatusChangeHook) {
	s.hooks = append(s.hooks, h)
}

func (s *CompetitionService) fireStatusChange(ctx context.Context, comp *models.Competition) {
	for _, h := range s.hooks {
		h(ctx, comp)
	}
}

var allowedTransitions = map[models.CompetitionStatus][]models.CompetitionStatus{
	models.CompetitionCreated: {models.CompetitionFrozen, models.CompetitionOpen},
	models.CompetitionFrozen:  {models.CompetitionOpen, models.CompetitionPaused, models.CompetitionClosing},
	models.CompetitionOpen:    {models.CompetitionFrozen, models.CompetitionPaused, models.CompetitionClosing},
	models.CompetitionPaused:  {models.CompetitionOpen, models.CompetitionFrozen, models.CompetitionClosing},
	models.CompetitionClosing: {models.CompetitionOpen, models.CompetitionPaused},
}

func canTransition(from, to models.CompetitionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus moves a competition to status. Closing a competition with no
// open rounds closes it immediately.
func (s *CompetitionService) UpdateStatus(ctx context.Context, id string, status models.CompetitionStatus) (*models.Competition, error) {
	if !status.Valid() {
		return nil, eris.Wrapf(ErrInvalidTransition, "unknown status %q", status)
	}

	var comp models.Competition
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&comp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCompetitionNotFound
			}
			return eris.Wrap(err, "failed to lock competition")
		}
		if comp.Status == status {
			return nil
		}
		if !canTransition(comp.Status, status) {
			return eris.Wrapf(ErrInvalidTransition, "%s to %s", comp.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if status == models.CompetitionOpen && comp.DateOpened == nil {
			now := time.Now().UTC()
			updates["date_opened"] = now
			comp.DateOpened = &now
		}
		if err := tx.Model(&models.Competition{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return eris.Wrap(err, "failed to update status")
		}
		comp.Status = status

		if status == models.CompetitionClosing {
			if _, err := s.tryToClose(tx, &comp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("competition_id", comp.ID).Str("status", string(comp.Status)).Msg("[Competitions] status changed")
	s.fireStatusChange(ctx, &comp)
	return &comp, nil
}

// CompleteRound marks a round complete. Completing a round twice, or one that
// still has unresolved matches, is an error.
func (s *CompetitionService) CompleteRound(tx *gorm.DB, roundID string) (*models.Round, error) {
	var round models.Round
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", roundID).
		First(&round).Error; err != nil {
		return nil, eris.Wrap(err, "failed to lock round")
	}
	if round.Complete {
		return nil, eris.Wrapf(ErrRoundAlreadyComplete, "round %d", round.Number)
	}

	unresolved, err := unresolvedMatchCount(tx, roundID)
	if err != nil {
		return nil, err
	}
	if unresolved > 0 {
		return nil, ErrRoundNotFinished
	}

	now := time.Now().UTC()
	if err := tx.Model(&models.Round{}).Where("id = ?", roundID).Updates(map[string]interface{}{
		"complete": true,
		"finished": now,
	}).Error; err != nil {
		return nil, eris.Wrap(err, "failed to complete round")
	}
	round.Complete = true
	round.Finished = &now
	return &round, nil
}

func unresolvedMatchCount(tx *gorm.DB, roundID string) (int64, error) {
	var n int64
	if err := tx.Model(&models.Match{}).
		Where("round_id = ?", roundID).
		Where(noResult).
		Count(&n).Error; err != nil {
		return 0, eris.Wrap(err, "failed to count unresolved matches")
	}
	return n, nil
}

// TryToClose closes the competition if it is closing and has no incomplete
// rounds. It reports whether the competition was closed.
func (s *CompetitionService) TryToClose(tx *gorm.DB, competitionID string) (*models.Competition, bool, error) {
	var comp models.Competition
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", competitionID).
		First(&comp).Error; err != nil {
		return nil, false, eris.Wrap(err, "failed to lock competition")
	}
	closed, err := s.tryToClose(tx, &comp)
	return &comp, closed, err
}

func (s *CompetitionService) tryToClose(tx *gorm.DB, comp *models.Competition) (bool, error) {
	if comp.Status != models.CompetitionClosing {
		return false, nil
	}
	var open int64
	if err := tx.Model(&models.Round{}).
		Where("competition_id = ? AND complete = ?", comp.ID, false).
		Count(&open).Error; err != nil {
		return false, eris.Wrap(err, "failed to count open rounds")
	}
	if open > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	if err := tx.Model(&models.Competition{}).Where("id = ?", comp.ID).Updates(map[string]interface{}{
		"status":      models.CompetitionClosed,
		"date_closed": now,
	}).Error; err != nil {
		return false, eris.Wrap(err, "failed to close competition")
	}
	if err := tx.Model(&models.CompetitionParticipation{}).
		Where("competition_id = ?", comp.ID).
		Updates(map[string]interface{}{
			"active":       false,
			"division_num": models.DefaultDivision,
		}).Error; err != nil {
		return false, eris.Wrap(err, "failed to deactivate participants")
	}
	comp.Status = models.CompetitionClosed
	comp.DateClosed = &now

	s.logger.Info().Str("competition_id", comp.ID).Msg("[Competitions] competition closed")
	return true, nil
}
