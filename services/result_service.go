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

	"arena-ladder/config"
	"arena-ladder/models"
	"arena-ladder/notify"
	"arena-ladder/utils"
)

// ParticipantSubmission is what the arena client reports for one bot.
type ParticipantSubmission struct {
	AvgStepTime *float64
	Log         []byte
	Data        []byte
	// Tags replaces the owner's tags on the match. nil leaves them untouched.
	Tags        []string
}

type SubmitResultRequest struct {
	MatchID       string
	ArenaClientID string
	Type          models.ResultType
	GameSteps     int
	Replay        []byte
	Participants  [2]ParticipantSubmission
}

type resultInput struct {
	Type          models.ResultType
	GameSteps     int
	SubmittedByID *string
	Replay        []byte
	Participants  [2]ParticipantSubmission
}

type finalized struct {
	result *models.Result
	closed *models.Competition
	alerts []notify.CrashAlert
	notice notify.ResultNotice
}

// ResultService records match outcomes and everything that follows from
// them: ratings, round completion, statistics and crash alerts.
type ResultService struct {
	DB           *gorm.DB
	Config       config.Provider
	Blobs        utils.BlobStore
	Notifier     notify.Notifier
	Competitions *CompetitionService
	logger       zerolog.Logger
}

func NewResultService(db *gorm.DB, cfg config.Provider, blobs utils.BlobStore, notifier notify.Notifier, competitions *CompetitionService) *ResultService {
	return &ResultService{
		DB:           db,
		Config:       cfg,
		Blobs:        blobs,
		Notifier:     notifier,
		Competitions: competitions,
		logger:       log.With().Str("component", "results").Logger(),
	}
}

// SubmitResult stores the result reported by the arena client the match is
// assigned to. Everything happens in one transaction; a rejected submission
// leaves no trace.
func (s *ResultService) SubmitResult(ctx context.Context, req SubmitResultRequest) (*models.Result, error) {
	if !req.Type.Valid() {
		return nil, eris.Wrapf(ErrInvalidResult, "unknown result type %q", req.Type)
	}
	if req.GameSteps < 0 {
		return nil, eris.Wrap(ErrInvalidResult, "game steps must not be negative")
	}
	settings := s.Config.Settings()

	var out *finalized
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, parts, err := lockMatch(tx, req.MatchID)
		if err != nil {
			return err
		}
		if match.AssignedToID == nil || *match.AssignedToID != req.ArenaClientID {
			return ErrNotAssigned
		}
		if err := ensureNoResult(tx, match.ID); err != nil {
			return err
		}
		bots, err := loadMatchBots(tx, parts, true)
		if err != nil {
			return err
		}

		submittedBy := req.ArenaClientID
		out, err = s.finalize(tx, match, parts, bots, resultInput{
			Type:          req.Type,
			GameSteps:     req.GameSteps,
			SubmittedByID: &submittedBy,
			Replay:        req.Replay,
			Participants:  req.Participants,
		}, settings)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, out)
	return out.result, nil
}

// CancelMatch resolves a match as cancelled. A non-nil userID must be the user
// who requested the match.
func (s *ResultService) CancelMatch(ctx context.Context, matchID string, userID *string) (*models.Result, error) {
	settings := s.Config.Settings()

	var out *finalized
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		match, parts, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if userID != nil && (match.RequestedByID == nil || *match.RequestedByID != *userID) {
			return ErrNotPermitted
		}
		if err := ensureNoResult(tx, match.ID); err != nil {
			return err
		}

		if match.Started == nil {
			now := time.Now().UTC()
			if err := tx.Model(&models.Match{}).Where("id = ?", match.ID).Updates(map[string]interface{}{
				"started":       now,
				"first_started": now,
			}).Error; err != nil {
				return eris.Wrap(err, "failed to backfill match start")
			}
			match.Started = &now
			match.FirstStarted = &now
		}

		bots, err := loadMatchBots(tx, parts, false)
		if err != nil {
			return err
		}
		out, err = s.finalize(tx, match, parts, bots, resultInput{Type: models.ResultMatchCancelled}, settings)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, out)
	return out.result, nil
}

// SweepOvertime cancels matches that were started longer ago than the match
// timeout and never got a result.
func (s *ResultService) SweepOvertime(ctx context.Context) (int, error) {
	timeout := s.Config.Settings().MatchTimeout()
	if timeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-timeout)

	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("started IS NOT NULL AND started < ?", cutoff).
		Where(noResult).
		Order("started").
		Pluck("id", &ids).Error; err != nil {
		return 0, eris.Wrap(err, "failed to find overtime matches")
	}

	cancelled := 0
	for _, id := range ids {
		if _, err := s.CancelMatch(ctx, id, nil); err != nil {
			if errors.Is(err, ErrResultAlreadyExists) {
				continue
			}
			s.logger.Error().Err(err).Str("match_id", id).Msg("[Results] failed to cancel overtime match")
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		s.logger.Info().Int("cancelled", cancelled).Msg("[Results] cancelled overtime matches")
	}
	return cancelled, nil
}

func lockMatch(tx *gorm.DB, matchID string) (*models.Match, []models.MatchParticipation, error) {
	var match models.Match
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", matchID).
		First(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrMatchNotFound
		}
		return nil, nil, eris.Wrap(err, "failed to lock match")
	}

	var parts []models.MatchParticipation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("match_id = ?", match.ID).
		Order("participant_number").
		Find(&parts).Error; err != nil {
		return nil, nil, eris.Wrap(err, "failed to lock participations")
	}
	if len(parts) != 2 || parts[0].ParticipantNumber != 1 || parts[1].ParticipantNumber != 2 {
		return nil, nil, eris.Wrapf(ErrBotNotInMatch, "match %s has %d participants", match.ID, len(parts))
	}
	return &match, parts, nil
}

func ensureNoResult(tx *gorm.DB, matchID string) error {
	var n int64
	if err := tx.Model(&models.Result{}).Where("match_id = ?", matchID).Count(&n).Error; err != nil {
		return eris.Wrap(err, "failed to check existing result")
	}
	if n > 0 {
		return ErrResultAlreadyExists
	}
	return nil
}

// loadMatchBots returns the match's bots by ID. With strict set a removed bot
// fails the request.
func loadMatchBots(tx *gorm.DB, parts []models.MatchParticipation, strict bool) (map[string]*models.Bot, error) {
	ids := []string{parts[0].BotID, parts[1].BotID}
	var bots []models.Bot
	if err := tx.Where("id IN ?", ids).Find(&bots).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load bots")
	}
	out := make(map[string]*models.Bot, len(bots))
	for i := range bots {
		out[bots[i].ID] = &bots[i]
	}
	if strict {
		for _, id := range ids {
			if out[id] == nil {
				return nil, eris.Wrapf(ErrBotNotInMatch, "bot %s", id)
			}
		}
	}
	return out, nil
}

func (s *ResultService) finalize(tx *gorm.DB, match *models.Match, parts []models.MatchParticipation, bots map[string]*models.Bot, in resultInput, settings config.Settings) (*finalized, error) {
	ctx := tx.Statement.Context
	out := &finalized{}

	var round *models.Round
	if match.RoundID != nil {
		round = &models.Round{}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", *match.RoundID).
			First(round).Error; err != nil {
			return nil, eris.Wrap(err, "failed to lock round")
		}
	}

	result := models.Result{
		MatchID:       match.ID,
		Type:          in.Type,
		GameSteps:     in.GameSteps,
		SubmittedByID: in.SubmittedByID,
	}
	if len(in.Replay) > 0 {
		key := utils.ReplayKey(match.ID)
		result.ReplayKey = &key
	}
	if err := tx.Create(&result).Error; err != nil {
		return nil, eris.Wrap(err, "failed to save result")
	}
	out.result = &result

	for i := range parts {
		p := &parts[i]
		sub := in.Participants[i]
		res := in.Type.ParticipantResult(p.ParticipantNumber)
		cause := in.Type.ParticipantCause(p.ParticipantNumber)
		p.Result, p.ResultCause, p.AvgStepTime = &res, &cause, sub.AvgStepTime
		updates := map[string]interface{}{
			"result":        res,
			"result_cause":  cause,
			"avg_step_time": sub.AvgStepTime,
		}
		if len(sub.Log) > 0 {
			key := utils.MatchLogKey(match.ID, p.BotID)
			p.MatchLogKey = &key
			updates["match_log_key"] = key
		}
		if err := tx.Model(&models.MatchParticipation{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
			return nil, eris.Wrap(err, "failed to update participation")
		}
	}

	if err := s.applyTags(tx, match.ID, parts, bots, in.Participants); err != nil {
		return nil, err
	}

	if round != nil {
		unresolved, err := unresolvedMatchCount(tx, round.ID)
		if err != nil {
			return nil, err
		}
		if unresolved == 0 {
			if _, err := s.Competitions.CompleteRound(tx, round.ID); err != nil {
				return nil, err
			}
			comp, closed, err := s.Competitions.TryToClose(tx, round.CompetitionID)
			if err != nil {
				return nil, err
			}
			if closed {
				out.closed = comp
			}
		}

		if in.Type.Decisive() {
			if err := s.applyElo(tx, round.CompetitionID, parts, in.Type, settings); err != nil {
				return nil, err
			}
		}
		if err := updateParticipationStats(tx, round.CompetitionID, parts); err != nil {
			return nil, err
		}
	}

	for i := range parts {
		bot := bots[parts[i].BotID]
		if bot == nil || !parts[i].Crashed() {
			continue
		}
		alert, err := checkConsecutiveCrashes(tx, bot, settings.BotConsecutiveCrashLimit)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			out.alerts = append(out.alerts, *alert)
		}
	}

	// Blobs go last so a rejected submission never leaves one behind.
	if err := s.storeBlobs(ctx, tx, match, parts, bots, in); err != nil {
		return nil, err
	}

	out.notice = notify.ResultNotice{
		MatchID:    match.ID,
		ResultType: string(in.Type),
		GameSteps:  in.GameSteps,
		Requested:  match.IsRequested(),
		Bot1Name:   botName(bots, parts[0].BotID),
		Bot2Name:   botName(bots, parts[1].BotID),
	}
	return out, nil
}

func botName(bots map[string]*models.Bot, id string) string {
	if b := bots[id]; b != nil {
		return b.Name
	}
	return id
}

func (s *ResultService) applyTags(tx *gorm.DB, matchID string, parts []models.MatchParticipation, bots map[string]*models.Bot, subs [2]ParticipantSubmission) error {
	var owners [2]string
	var tags [2][]string
	submitted := false
	for i := range parts {
		if b := bots[parts[i].BotID]; b != nil {
			owners[i] = b.UserID
		}
		tags[i] = subs[i].Tags
		submitted = submitted || subs[i].Tags != nil
	}
	if !submitted {
		return nil
	}
	return replaceMatchTags(tx, matchID, tagsByOwner(owners, tags))
}

// applyElo moves rating points between the two participants. Both
// participation rows are locked in id order.
func (s *ResultService) applyElo(tx *gorm.DB, competitionID string, parts []models.MatchParticipation, resultType models.ResultType, settings config.Settings) error {
	var cps []models.CompetitionParticipation
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("competition_id = ? AND bot_id IN ?", competitionID, []string{parts[0].BotID, parts[1].BotID}).
		Order("id").
		Find(&cps).Error; err != nil {
		return eris.Wrap(err, "failed to lock competition participations")
	}
	if len(cps) != 2 {
		return eris.Wrapf(ErrBotNotInMatch, "expected 2 competition participations, found %d", len(cps))
	}
	byBot := map[string]*models.CompetitionParticipation{cps[0].BotID: &cps[0], cps[1].BotID: &cps[1]}
	p1, p2 := byBot[parts[0].BotID], byBot[parts[1].BotID]

	delta := EloDelta(p1.Elo, p2.Elo, resultType.Score())
	changes := []struct {
		part   *models.MatchParticipation
		cp     *models.CompetitionParticipation
		change int
	}{
		{&parts[0], p1, delta},
		{&parts[1], p2, -delta},
	}
	for _, c := range changes {
		starting := c.cp.Elo
		resultant := starting + c.change
		change := c.change
		c.part.StartingElo, c.part.ResultantElo, c.part.EloChange = &starting, &resultant, &change

		if err := tx.Model(&models.MatchParticipation{}).Where("id = ?", c.part.ID).Updates(map[string]interface{}{
			"starting_elo":  starting,
			"resultant_elo": resultant,
			"elo_change":    change,
		}).Error; err != nil {
			return eris.Wrap(err, "failed to save elo change")
		}
		if err := tx.Model(&models.CompetitionParticipation{}).Where("id = ?", c.cp.ID).Updates(map[string]interface{}{
			"elo":         resultant,
			"highest_elo": max(c.cp.HighestElo, resultant),
		}).Error; err != nil {
			return eris.Wrap(err, "failed to save elo")
		}
		c.cp.Elo = resultant
	}

	if settings.EloSanityCheck {
		return s.checkEloSum(tx, competitionID, settings.EloStartValue)
	}
	return nil
}

type eloSum struct {
	Total int64
	N     int64
}

// checkEloSum compares the competition's rating total against the starting
// value per participant. A mismatch is logged but does not fail the result.
func (s *ResultService) checkEloSum(tx *gorm.DB, competitionID string, startValue int) error {
	var sum eloSum
	if err := tx.Model(&models.CompetitionParticipation{}).
		Select("COALESCE(SUM(elo), 0) AS total, COUNT(*) AS n").
		Where("competition_id = ?", competitionID).
		Scan(&sum).Error; err != nil {
		return eris.Wrap(err, "failed to sum elo")
	}
	expected := int64(startValue) * sum.N
	if sum.Total != expected {
		s.logger.WithLevel(zerolog.FatalLevel).
			Str("competition_id", competitionID).
			Int64("sum", sum.Total).
			Int64("expected", expected).
			Msg("[Results] ELO sum mismatch")
	}
	return nil
}

type participationStats struct {
	Matches int
	Wins    int
	Losses  int
	Ties    int
	Crashes int
}

var crashCauses = []models.ResultCause{models.CauseCrash, models.CauseTimeout, models.CauseInitializationFailure}

// updateParticipationStats recomputes the aggregate counters for both bots.
func updateParticipationStats(tx *gorm.DB, competitionID string, parts []models.MatchParticipation) error {
	for _, p := range parts {
		var st participationStats
		if err := tx.Table("match_participations").
			Select(`COUNT(*) AS matches,
				COALESCE(SUM(CASE WHEN match_participations.result = ? THEN 1 ELSE 0 END), 0) AS wins,
				COALESCE(SUM(CASE WHEN match_participations.result = ? THEN 1 ELSE 0 END), 0) AS losses,
				COALESCE(SUM(CASE WHEN match_participations.result = ? THEN 1 ELSE 0 END), 0) AS ties,
				COALESCE(SUM(CASE WHEN match_participations.result = ? AND match_participations.result_cause IN ? THEN 1 ELSE 0 END), 0) AS crashes`,
				models.ParticipationWin, models.ParticipationLoss, models.ParticipationTie, models.ParticipationLoss, crashCauses).
			Joins("JOIN matches ON matches.id = match_participations.match_id").
			Joins("JOIN rounds ON rounds.id = matches.round_id").
			Joins("JOIN results ON results.match_id = matches.id").
			Where("rounds.competition_id = ? AND match_participations.bot_id = ?", competitionID, p.BotID).
			Where("results.type NOT IN ?", models.NonCountingResultTypes).
			Scan(&st).Error; err != nil {
			return eris.Wrap(err, "failed to compute statistics")
		}

		updates := map[string]interface{}{
			"match_count": st.Matches,
			"win_count":   st.Wins,
			"loss_count":  st.Losses,
			"tie_count":   st.Ties,
			"crash_count": st.Crashes,
			"win_perc":    0.0,
			"crash_perc":  0.0,
		}
		if st.Matches > 0 {
			updates["win_perc"] = float64(st.Wins) / float64(st.Matches) * 100
			updates["crash_perc"] = float64(st.Crashes) / float64(st.Matches) * 100
		}
		if err := tx.Model(&models.CompetitionParticipation{}).
			Where("competition_id = ? AND bot_id = ?", competitionID, p.BotID).
			Updates(updates).Error; err != nil {
			return eris.Wrap(err, "failed to save statistics")
		}
	}
	return nil
}

// storeBlobs writes logs, the replay and bot data. Bot data is only written
// back for ladder matches where the participant both used and updates it.
func (s *ResultService) storeBlobs(ctx context.Context, tx *gorm.DB, match *models.Match, parts []models.MatchParticipation, bots map[string]*models.Bot, in resultInput) error {
	if len(in.Replay) > 0 {
		if err := s.Blobs.Put(ctx, utils.ReplayKey(match.ID), in.Replay, "application/octet-stream"); err != nil {
			return eris.Wrap(err, "failed to store replay")
		}
	}

	now := time.Now().UTC()
	for i := range parts {
		p := &parts[i]
		sub := in.Participants[i]
		if p.MatchLogKey != nil {
			if err := s.Blobs.Put(ctx, *p.MatchLogKey, sub.Log, "application/zip"); err != nil {
				return eris.Wrap(err, "failed to store match log")
			}
		}

		bot := bots[p.BotID]
		if bot == nil || !p.HoldsBotData() || match.IsRequested() || len(sub.Data) == 0 {
			continue
		}
		if err := tx.Model(&models.Bot{}).Where("id = ?", bot.ID).Update("data_updated_at", now).Error; err != nil {
			return eris.Wrap(err, "failed to update bot data timestamp")
		}
		if err := s.Blobs.Put(ctx, bot.BotDataKey(), sub.Data, "application/zip"); err != nil {
			return eris.Wrap(err, "failed to store bot data")
		}
		bot.DataUpdatedAt = &now
	}
	return nil
}

// afterCommit runs the best-effort side effects of a stored result.
func (s *ResultService) afterCommit(ctx context.Context, out *finalized) {
	if out.closed != nil {
		s.Competitions.fireStatusChange(ctx, out.closed)
	}
	for _, a := range out.alerts {
		if err := s.Notifier.SendCrashAlert(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("bot_id", a.BotID).Msg("[Results] failed to send crash alert")
		}
	}
	if err := s.Notifier.PostResult(ctx, out.notice); err != nil {
		s.logger.Error().Err(err).Str("match_id", out.notice.MatchID).Msg("[Results] failed to post result")
	}
}
