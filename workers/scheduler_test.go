package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-ladder/config"
	"arena-ladder/models"
	"arena-ladder/testutil"
)

func TestSchedulerRegistersJobs(t *testing.T) {
	db := testutil.NewDB(t)
	store := config.NewStore(db, config.Defaults())

	s, err := NewScheduler(nil, store, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown() })

	names := []string{}
	for _, j := range s.sched.Jobs() {
		names = append(names, j.Name())
	}
	assert.ElementsMatch(t, []string{"overtime-sweep", "config-reload"}, names)
}

func TestSchedulerAddsUserSyncWhenConfigured(t *testing.T) {
	db := testutil.NewDB(t)
	s, err := NewScheduler(nil, config.NewStore(db, config.Defaults()), NewUserSyncWorker(db, "http://profiles.invalid", "svc"))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.Len(t, s.sched.Jobs(), 3)
}

func TestReloadConfigAppliesSiteSettings(t *testing.T) {
	db := testutil.NewDB(t)
	store := config.NewStore(db, config.Defaults())
	require.NoError(t, db.Create(&models.SiteSetting{Key: "LADDER_ENABLED", Value: "false"}).Error)

	s, err := NewScheduler(nil, store, nil)
	require.NoError(t, err)
	s.ReloadConfig(context.Background())

	assert.False(t, store.Settings().LadderEnabled)
}
