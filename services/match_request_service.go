package services

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arena-ladder/config"
	"arena-ladder/models"
)

type MatchupMode string

const (
	MatchupSpecific       MatchupMode = "specific_matchup"
	MatchupRandomOpponent MatchupMode = "random_opponent"
)

// MatchRequest asks for Count matches outside of the ladder. Exactly one of
// MapID and MapPoolID is set; a pool draws a map per match.
type MatchRequest struct {
	UserID    string      `json:"-"`
	Bot1ID    string      `json:"bot1_id"`
	Bot2ID    *string     `json:"bot2_id,omitempty"`
	MapID     *string     `json:"map_id,omitempty"`
	MapPoolID *string     `json:"map_pool_id,omitempty"`
	Count     int         `json:"count"`
	Mode      MatchupMode `json:"matchup_type"`
}

// MatchRequestService creates user requested matches. Quotas are enforced by
// the caller; Count is only bounded by MAX_REQUESTED_MATCHES.
type MatchRequestService struct {
	DB     *gorm.DB
	Config config.Provider
	logger zerolog.Logger
}

func NewMatchRequestService(db *gorm.DB, cfg config.Provider) *MatchRequestService {
	return &MatchRequestService{
		DB:     db,
		Config: cfg,
		logger: log.With().Str("component", "match-requests").Logger(),
	}
}

func (s *MatchRequestService) RequestMatches(ctx context.Context, req MatchRequest) ([]models.Match, error) {
	settings := s.Config.Settings()
	if req.Count < 1 || req.Count > settings.MaxRequestedMatches {
		return nil, eris.Wrapf(ErrInvalidRequest, "count must be between 1 and %d", settings.MaxRequestedMatches)
	}
	if (req.MapID == nil) == (req.MapPoolID == nil) {
		return nil, eris.Wrap(ErrInvalidRequest, "exactly one of map_id and map_pool_id is required")
	}
	switch req.Mode {
	case MatchupSpecific:
		if req.Bot2ID == nil || *req.Bot2ID == req.Bot1ID {
			return nil, eris.Wrap(ErrInvalidRequest, "specific_matchup needs two different bots")
		}
	case MatchupRandomOpponent:
	default:
		return nil, eris.Wrapf(ErrInvalidRequest, "unknown matchup type %q", req.Mode)
	}

	var matches []models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bot1, err := findBot(tx, req.Bot1ID)
		if err != nil {
			return err
		}

		var opponents []models.Bot
		if req.Mode == MatchupSpecific {
			bot2, err := findBot(tx, *req.Bot2ID)
			if err != nil {
				return err
			}
			opponents = []models.Bot{*bot2}
		} else {
			if err := tx.Where("id <> ?", bot1.ID).
				Where("EXISTS (SELECT 1 FROM competition_participations cp WHERE cp.bot_id = bots.id AND cp.active = ?)", true).
				Find(&opponents).Error; err != nil {
				return eris.Wrap(err, "failed to load opponents")
			}
			if len(opponents) == 0 {
				return ErrNoOpponent
			}
		}

		maps, err := requestMaps(tx, req)
		if err != nil {
			return err
		}

		matches = make([]models.Match, 0, req.Count)
		for i := 0; i < req.Count; i++ {
			opponent := opponents[rand.IntN(len(opponents))]
			m := maps[rand.IntN(len(maps))]
			matches = append(matches, models.Match{
				RequestedByID:             &req.UserID,
				MapID:                     m.ID,
				RequireTrustedArenaClient: settings.RequestedMatchesRequireTrusted,
				Participations: []models.MatchParticipation{
					requestedParticipation(1, bot1),
					requestedParticipation(2, &opponent),
				},
			})
		}
		if err := tx.Create(&matches).Error; err != nil {
			return eris.Wrap(err, "failed to create requested matches")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", req.UserID).Int("count", len(matches)).Str("mode", string(req.Mode)).Msg("[MatchRequests] matches requested")
	return matches, nil
}

// requestedParticipation never writes bot data back.
func requestedParticipation(number int, bot *models.Bot) models.MatchParticipation {
	return models.MatchParticipation{
		ParticipantNumber: number,
		BotID:             bot.ID,
		UseBotData:        bot.BotDataEnabled,
		UpdateBotData:     false,
	}
}

func findBot(tx *gorm.DB, id string) (*models.Bot, error) {
	var bot models.Bot
	if err := tx.Where("id = ?", id).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(ErrBotNotFound, "bot %s", id)
		}
		return nil, eris.Wrap(err, "failed to load bot")
	}
	return &bot, nil
}

func requestMaps(tx *gorm.DB, req MatchRequest) ([]models.Map, error) {
	if req.MapID != nil {
		var m models.Map
		if err := tx.Where("id = ? AND enabled = ?", *req.MapID, true).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, eris.Wrapf(ErrMapNotFound, "map %s", *req.MapID)
			}
			return nil, eris.Wrap(err, "failed to load map")
		}
		return []models.Map{m}, nil
	}

	var pool models.MapPool
	if err := tx.Preload("Maps", "enabled = ?", true).
		Where("id = ?", *req.MapPoolID).
		First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(ErrMapNotFound, "map pool %s", *req.MapPoolID)
		}
		return nil, eris.Wrap(err, "failed to load map pool")
	}
	if len(pool.Maps) == 0 {
		return nil, ErrNoMaps
	}
	return pool.Maps, nil
}
