package services

import (
	"context"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arena-ladder/cache"
	"arena-ladder/config"
	"arena-ladder/models"
)

const (
	priorityCacheKey    = "competition-priority-order"
	recentResultsWindow = 100
)

// PriorityService ranks schedulable competitions so that competitions which
// played fewer recent matches than their share of active bots go first.
type PriorityService struct {
	DB     *gorm.DB
	Cache  cache.Cache
	Config config.Provider
	logger zerolog.Logger
}

func NewPriorityService(db *gorm.DB, c cache.Cache, cfg config.Provider) *PriorityService {
	return &PriorityService{
		DB:     db,
		Cache:  c,
		Config: cfg,
		logger: log.With().Str("component", "priority").Logger(),
	}
}

// Order returns competition IDs in scheduling order. The ranking is cached
// and may be stale within its TTL.
func (s *PriorityService) Order(ctx context.Context) ([]string, error) {
	if raw, ok, err := s.Cache.Get(ctx, priorityCacheKey); err != nil {
		s.logger.Warn().Err(err).Msg("[Priority] cache read failed")
	} else if ok {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
	}

	ids, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(ids); err == nil {
		ttl := s.Config.Settings().PriorityCacheTTL()
		if err := s.Cache.Set(ctx, priorityCacheKey, raw, ttl); err != nil {
			s.logger.Warn().Err(err).Msg("[Priority] cache write failed")
		}
	}
	return ids, nil
}

// Invalidate drops the cached ranking.
func (s *PriorityService) Invalidate(ctx context.Context) error {
	return s.Cache.Delete(ctx, priorityCacheKey)
}

// OnStatusChange is registered as a competition status hook.
func (s *PriorityService) OnStatusChange(ctx context.Context, comp *models.Competition) {
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Error().Err(err).Str("competition_id", comp.ID).Msg("[Priority] failed to invalidate ranking")
	}
}

type competitionShare struct {
	ID     string
	Recent float64
	Active float64
}

func (s *PriorityService) compute(ctx context.Context) ([]string, error) {
	db := s.DB.WithContext(ctx)

	var comps []models.Competition
	if err := db.Where("status IN ?", models.SchedulableStatuses).
		Order("created_at, id").
		Find(&comps).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load competitions")
	}
	if len(comps) == 0 {
		return []string{}, nil
	}

	type countRow struct {
		CompetitionID string
		N             int
	}

	var active []countRow
	if err := db.Model(&models.CompetitionParticipation{}).
		Select("competition_id, COUNT(*) AS n").
		Where("active = ?", true).
		Group("competition_id").
		Scan(&active).Error; err != nil {
		return nil, eris.Wrap(err, "failed to count active participants")
	}

	var recent []string
	if err := db.Table("results").
		Joins("JOIN matches ON matches.id = results.match_id").
		Joins("JOIN rounds ON rounds.id = matches.round_id").
		Order("results.created_at DESC").
		Limit(recentResultsWindow).
		Pluck("rounds.competition_id", &recent).Error; err != nil {
		return nil, eris.Wrap(err, "failed to load recent results")
	}

	activeBy := make(map[string]int)
	totalActive := 0
	for _, r := range active {
		activeBy[r.CompetitionID] = r.N
		totalActive += r.N
	}
	recentBy := make(map[string]int)
	for _, id := range recent {
		recentBy[id]++
	}

	shares := make([]competitionShare, 0, len(comps))
	for _, c := range comps {
		sh := competitionShare{ID: c.ID}
		if len(recent) > 0 {
			sh.Recent = float64(recentBy[c.ID]) / float64(len(recent))
		}
		if totalActive > 0 {
			sh.Active = float64(activeBy[c.ID]) / float64(totalActive)
		}
		shares = append(shares, sh)
	}
	return rankByDeficit(shares), nil
}

// rankByDeficit sorts by recent share minus active share, most under-served
// first. Ties keep the input order.
func rankByDeficit(shares []competitionShare) []string {
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Recent-shares[i].Active < shares[j].Recent-shares[j].Active
	})
	ids := make([]string, len(shares))
	for i, sh := range shares {
		ids[i] = sh.ID
	}
	return ids
}
