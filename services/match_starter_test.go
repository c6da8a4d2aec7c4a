package services

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arena-ladder/models"
)

func TestTryStartClaimsOnlyOnce(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("race", 2)
	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	match := f.roundMatches(round.ID)[0]

	const workers = 8
	clients := make([]*models.ArenaClient, workers)
	for i := range clients {
		clients[i] = f.arenaClient("worker-"+string(rune('a'+i)), true)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(client *models.ArenaClient) {
			defer wg.Done()
			candidate := match
			err := f.db.Transaction(func(tx *gorm.DB) error {
				ok, err := f.starter.TryStart(tx, &candidate, client)
				if ok {
					wins.Add(1)
				}
				return err
			})
			assert.NoError(t, err)
		}(clients[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	reloaded := f.reloadMatch(match.ID)
	require.NotNil(t, reloaded.Started)
	require.NotNil(t, reloaded.AssignedToID)
}

func TestTryStartRespectsFrozenBotData(t *testing.T) {
	f := newFixture(t)
	comp := f.competition("frozen")
	owner := f.user("frozen-owner")
	a := f.bot(owner, "data-a", true)
	b := f.bot(f.user("other-owner"), "data-b", true)
	c := f.bot(f.user("third-owner"), "data-c", true)
	for _, bot := range []models.Bot{a, b, c} {
		f.join(comp, bot, 1600)
	}
	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	client := f.arenaClient("solo", true)

	var first *models.Match
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = f.starter.StartFromRound(tx, round.ID, client)
		return err
	}))
	require.NotNil(t, first)

	// Every remaining match shares a bot with the running one.
	var second *models.Match
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = f.starter.StartFromRound(tx, round.ID, client)
		return err
	}))
	assert.Nil(t, second)

	frozen, err := IsDataFrozen(f.db, first.Participations[0].BotID)
	require.NoError(t, err)
	assert.True(t, frozen)
}

func TestTryStartFreezesBotDataAcrossCompetitions(t *testing.T) {
	f := newFixture(t)
	shared := f.bot(f.user("shared-owner"), "shared", true)

	var matches []models.Match
	for _, name := range []string{"north", "south"} {
		comp := f.competition(name)
		f.join(comp, shared, 1600)
		f.join(comp, f.bot(f.user(name+"-owner"), name+"-bot", true), 1600)
		round, err := f.generateRound(comp.ID)
		require.NoError(t, err)
		roundMatches := f.roundMatches(round.ID)
		require.Len(t, roundMatches, 1)
		matches = append(matches, roundMatches[0])
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i, m := range matches {
		wg.Add(1)
		go func(candidate models.Match, client *models.ArenaClient) {
			defer wg.Done()
			err := f.db.Transaction(func(tx *gorm.DB) error {
				ok, err := f.starter.TryStart(tx, &candidate, client)
				if ok {
					wins.Add(1)
				}
				return err
			})
			assert.NoError(t, err)
		}(m, f.arenaClient("worker-"+string(rune('a'+i)), true))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	frozen, err := IsDataFrozen(f.db, shared.ID)
	require.NoError(t, err)
	assert.True(t, frozen)
}

func TestTryStartRequiresTrustedClient(t *testing.T) {
	f := newFixture(t)
	comp, _ := f.ladder("trusted-only", 2, func(c *models.Competition) {
		c.RequireTrustedInfrastructure = true
	})
	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)
	match := f.roundMatches(round.ID)[0]
	assert.True(t, match.RequireTrustedArenaClient)

	var ok bool
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		ok, err = f.starter.TryStart(tx, &match, f.arenaClient("untrusted", false))
		return err
	}))
	assert.False(t, ok)
}

func TestEnoughAvailable(t *testing.T) {
	f := newFixture(t)
	comp := f.competition("availability")
	var ids []string
	for i := 0; i < 3; i++ {
		b := f.bot(f.user("avail-"+string(rune('a'+i))), "avail-bot-"+string(rune('a'+i)), true)
		f.join(comp, b, 1600)
		ids = append(ids, b.ID)
	}
	round, err := f.generateRound(comp.ID)
	require.NoError(t, err)

	ok, err := EnoughAvailable(f.db, ids, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.starter.StartFromRound(tx, round.ID, f.arenaClient("busy", true))
		return err
	}))

	ok, err = EnoughAvailable(f.db, ids, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = EnoughAvailable(f.db, ids, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
