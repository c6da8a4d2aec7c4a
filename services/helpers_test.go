package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arena-ladder/cache"
	"arena-ladder/config"
	"arena-ladder/models"
	"arena-ladder/notify"
	"arena-ladder/testutil"
	"arena-ladder/utils"
)

type recordingNotifier struct {
	mu      sync.Mutex
	alerts  []notify.CrashAlert
	notices []notify.ResultNotice
}

func (n *recordingNotifier) SendCrashAlert(_ context.Context, a notify.CrashAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) PostResult(_ context.Context, r notify.ResultNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, r)
	return nil
}

func (n *recordingNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type fixture struct {
	t            *testing.T
	ctx          context.Context
	db           *gorm.DB
	redis        *miniredis.Miniredis
	blobs        *utils.BoltStore
	notifier     *recordingNotifier
	competitions *CompetitionService
	priority     *PriorityService
	rounds       *RoundService
	starter      *MatchStarter
	scheduler    *SchedulerService
	results      *ResultService
	requests     *MatchRequestService
	botData      *BotDataService
}

func newFixture(t *testing.T, configure ...func(*config.Settings)) *fixture {
	t.Helper()

	settings := config.Defaults()
	for _, c := range configure {
		c(&settings)
	}
	cfg := config.Static(settings)

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	blobs, err := utils.NewBoltStore(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Shutdown() })

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		redis:    mr,
		blobs:    blobs,
		notifier: &recordingNotifier{},
	}
	f.competitions = NewCompetitionService(db)
	f.priority = NewPriorityService(db, cache.NewRedisCache(mr.Addr(), "test:"), cfg)
	f.competitions.OnStatusChange(f.priority.OnStatusChange)
	f.rounds = NewRoundService()
	f.starter = NewMatchStarter()
	f.scheduler = NewSchedulerService(db, cfg, f.priority, f.rounds, f.starter)
	f.results = NewResultService(db, cfg, blobs, f.notifier, f.competitions)
	f.requests = NewMatchRequestService(db, cfg)
	f.botData = NewBotDataService(db, blobs)
	return f
}

func (f *fixture) user(name string) models.User {
	u := models.User{ExternalUserID: "ext-" + name, Username: name}
	require.NoError(f.t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) bot(owner models.User, name string, dataEnabled bool) models.Bot {
	b := models.Bot{UserID: owner.ID, Name: name, Race: "T", BotDataEnabled: dataEnabled}
	require.NoError(f.t, f.db.Create(&b).Error)
	return b
}

func (f *fixture) competition(name string, configure ...func(*models.Competition)) models.Competition {
	c := models.Competition{
		Name:               name,
		Status:             models.CompetitionOpen,
		RoundsPerCycle:     5,
		MaxActiveRounds:    2,
		TargetNDivisions:   1,
		TargetDivisionSize: 10,
	}
	for _, fn := range configure {
		fn(&c)
	}
	require.NoError(f.t, f.db.Create(&c).Error)
	f.gameMap(&c.ID, name+"-map")
	return c
}

func (f *fixture) gameMap(competitionID *string, name string) models.Map {
	m := models.Map{Name: name, CompetitionID: competitionID, Enabled: true}
	require.NoError(f.t, f.db.Create(&m).Error)
	return m
}

func (f *fixture) join(comp models.Competition, bot models.Bot, elo int) models.CompetitionParticipation {
	p := models.CompetitionParticipation{
		CompetitionID: comp.ID,
		BotID:         bot.ID,
		Elo:           elo,
		HighestElo:    elo,
		Active:        true,
	}
	require.NoError(f.t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) arenaClient(name string, trusted bool) *models.ArenaClient {
	c := models.ArenaClient{Name: name, Token: "token-" + name, Trusted: trusted, Active: true}
	require.NoError(f.t, f.db.Create(&c).Error)
	return &c
}

// ladder builds an open competition with n bots of distinct owners at elo 1600.
func (f *fixture) ladder(name string, n int, configure ...func(*models.Competition)) (models.Competition, []models.Bot) {
	comp := f.competition(name, configure...)
	bots := make([]models.Bot, 0, n)
	for i := 0; i < n; i++ {
		owner := f.user(name + "-owner-" + string(rune('a'+i)))
		b := f.bot(owner, name+"-bot-"+string(rune('a'+i)), false)
		f.join(comp, b, 1600)
		bots = append(bots, b)
	}
	return comp, bots
}

func (f *fixture) participation(compID, botID string) models.CompetitionParticipation {
	var p models.CompetitionParticipation
	require.NoError(f.t, f.db.Where("competition_id = ? AND bot_id = ?", compID, botID).First(&p).Error)
	return p
}

func (f *fixture) reloadMatch(id string) models.Match {
	var m models.Match
	require.NoError(f.t, f.db.
		Preload("Participations", func(db *gorm.DB) *gorm.DB { return db.Order("participant_number") }).
		Preload("Result").
		Where("id = ?", id).
		First(&m).Error)
	return m
}

func (f *fixture) count(model interface{}, query string, args ...interface{}) int64 {
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}
