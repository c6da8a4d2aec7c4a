package services

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"arena-ladder/models"
	"arena-ladder/utils"
)

// BotDataService serves bot data archives to the arena client running a match.
type BotDataService struct {
	DB    *gorm.DB
	Blobs utils.BlobStore
}

func NewBotDataService(db *gorm.DB, blobs utils.BlobStore) *BotDataService {
	return &BotDataService{DB: db, Blobs: blobs}
}

func (s *BotDataService) Download(ctx context.Context, matchID string, participantNumber int, arenaClientID string) ([]byte, error) {
	db := s.DB.WithContext(ctx)

	var match models.Match
	if err := db.Where("id = ?", matchID).First(&match).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, eris.Wrap(err, "failed to load match")
	}
	if match.AssignedToID == nil || *match.AssignedToID != arenaClientID {
		return nil, ErrNotAssigned
	}

	var part models.MatchParticipation
	if err := db.Preload("Bot").
		Where("match_id = ? AND participant_number = ?", matchID, participantNumber).
		First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotDataNotAvailable
		}
		return nil, eris.Wrap(err, "failed to load participation")
	}
	if !part.UseBotData || part.Bot == nil {
		return nil, ErrBotDataNotAvailable
	}

	data, err := s.Blobs.Get(ctx, part.Bot.BotDataKey())
	if errors.Is(err, utils.ErrBlobNotFound) {
		return nil, ErrBotDataNotAvailable
	}
	return data, err
}
