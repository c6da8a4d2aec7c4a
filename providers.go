package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/samber/do/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arena-ladder/cache"
	"arena-ladder/config"
	"arena-ladder/handlers"
	"arena-ladder/notify"
	"arena-ladder/services"
	"arena-ladder/utils"
	"arena-ladder/workers"
)

const cachePrefix = "arena-ladder:"

// newInjector registers every provider. Nothing is built until invoked.
func newInjector(settings config.Settings) do.Injector {
	i := do.New()

	do.ProvideValue(i, settings)
	do.Provide(i, provideDB)
	do.Provide(i, provideConfigStore)
	do.Provide(i, provideConfigProvider)
	do.Provide(i, provideCache)
	do.Provide(i, provideBlobStore)
	do.Provide(i, provideNotifier)

	do.Provide(i, providePriority)
	do.Provide(i, provideCompetitions)
	do.Provide(i, provideScheduler)
	do.Provide(i, provideResults)
	do.Provide(i, provideMatchRequests)
	do.Provide(i, provideBotData)

	do.Provide(i, provideArenaClientHandler)
	do.Provide(i, provideMatchRequestHandler)
	do.Provide(i, provideAdminHandler)
	do.Provide(i, provideWorkers)

	return i
}

func provideDB(i do.Injector) (*gorm.DB, error) {
	settings := do.MustInvoke[config.Settings](i)
	if settings.DatabaseURL == "" {
		return nil, eris.New("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(settings.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to database")
	}
	return db, nil
}

func provideConfigStore(i do.Injector) (*config.Store, error) {
	store := config.NewStore(do.MustInvoke[*gorm.DB](i), do.MustInvoke[config.Settings](i))
	if err := store.Reload(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func provideConfigProvider(i do.Injector) (config.Provider, error) {
	return do.Invoke[*config.Store](i)
}

func provideCache(i do.Injector) (cache.Cache, error) {
	settings := do.MustInvoke[config.Settings](i)
	if settings.RedisAddr == "" {
		return nil, eris.New("REDIS_ADDR environment variable not set")
	}
	return cache.NewRedisCache(settings.RedisAddr, cachePrefix), nil
}

func provideBlobStore(i do.Injector) (utils.BlobStore, error) {
	settings := do.MustInvoke[config.Settings](i)
	switch settings.BlobBackend {
	case "r2":
		return utils.NewR2Store(context.Background(), settings.R2AccountID, settings.R2AccessKey, settings.R2SecretKey, settings.R2Bucket)
	case "bolt", "":
		return utils.NewBoltStore(settings.BoltPath)
	}
	return nil, eris.Errorf("unknown BLOB_BACKEND %q", settings.BlobBackend)
}

func provideNotifier(i do.Injector) (notify.Notifier, error) {
	settings := do.MustInvoke[config.Settings](i)
	if settings.DiscordWebhookURL == "" {
		return notify.LogNotifier{}, nil
	}
	return notify.NewWebhookClient(settings.DiscordWebhookURL), nil
}

func providePriority(i do.Injector) (*services.PriorityService, error) {
	return services.NewPriorityService(
		do.MustInvoke[*gorm.DB](i),
		do.MustInvoke[cache.Cache](i),
		do.MustInvoke[config.Provider](i),
	), nil
}

func provideCompetitions(i do.Injector) (*services.CompetitionService, error) {
	competitions := services.NewCompetitionService(do.MustInvoke[*gorm.DB](i))
	competitions.OnStatusChange(do.MustInvoke[*services.PriorityService](i).OnStatusChange)
	return competitions, nil
}

func provideScheduler(i do.Injector) (*services.SchedulerService, error) {
	return services.NewSchedulerService(
		do.MustInvoke[*gorm.DB](i),
		do.MustInvoke[config.Provider](i),
		do.MustInvoke[*services.PriorityService](i),
		services.NewRoundService(),
		services.NewMatchStarter(),
	), nil
}

func provideResults(i do.Injector) (*services.ResultService, error) {
	return services.NewResultService(
		do.MustInvoke[*gorm.DB](i),
		do.MustInvoke[config.Provider](i),
		do.MustInvoke[utils.BlobStore](i),
		do.MustInvoke[notify.Notifier](i),
		do.MustInvoke[*services.CompetitionService](i),
	), nil
}

func provideMatchRequests(i do.Injector) (*services.MatchRequestService, error) {
	return services.NewMatchRequestService(do.MustInvoke[*gorm.DB](i), do.MustInvoke[config.Provider](i)), nil
}

func provideBotData(i do.Injector) (*services.BotDataService, error) {
	return services.NewBotDataService(do.MustInvoke[*gorm.DB](i), do.MustInvoke[utils.BlobStore](i)), nil
}

func provideArenaClientHandler(i do.Injector) (*handlers.ArenaClientHandler, error) {
	return handlers.NewArenaClientHandler(
		do.MustInvoke[*services.SchedulerService](i),
		do.MustInvoke[*services.ResultService](i),
		do.MustInvoke[*services.BotDataService](i),
		do.MustInvoke[cache.Cache](i),
		do.MustInvoke[config.Provider](i),
	), nil
}

func provideMatchRequestHandler(i do.Injector) (*handlers.MatchRequestHandler, error) {
	return handlers.NewMatchRequestHandler(
		do.MustInvoke[*services.MatchRequestService](i),
		do.MustInvoke[*services.ResultService](i),
	), nil
}

func provideAdminHandler(i do.Injector) (*handlers.AdminHandler, error) {
	return handlers.NewAdminHandler(
		do.MustInvoke[*services.CompetitionService](i),
		do.MustInvoke[*services.ResultService](i),
	), nil
}

func provideWorkers(i do.Injector) (*workers.Scheduler, error) {
	settings := do.MustInvoke[config.Settings](i)
	db := do.MustInvoke[*gorm.DB](i)

	var users *workers.UserSyncWorker
	if settings.ProfileSyncURL != "" {
		users = workers.NewUserSyncWorker(db, settings.ProfileSyncURL, settings.ServiceToken)
	}
	return workers.NewScheduler(do.MustInvoke[*services.ResultService](i), do.MustInvoke[*config.Store](i), users)
}
