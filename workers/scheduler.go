package workers

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arena-ladder/config"
	"arena-ladder/services"
)

// Scheduler runs the periodic maintenance jobs of an API process.
type Scheduler struct {
	Results *services.ResultService
	Config  *config.Store
	// Users is nil when no profile service is configured.
	Users   *UserSyncWorker

	sched  gocron.Scheduler
	logger zerolog.Logger
}

func NewScheduler(results *services.ResultService, store *config.Store, users *UserSyncWorker) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create scheduler")
	}
	return &Scheduler{
		Results: results,
		Config:  store,
		Users:   users,
		sched:   sched,
		logger:  log.With().Str("component", "workers").Logger(),
	}, nil
}

type job struct {
	name string
	def  gocron.JobDefinition
	run  func(context.Context)
}

// Start registers the jobs and starts the scheduler. Jobs stop receiving a
// live context once ctx is cancelled; call Shutdown to stop them.
func (s *Scheduler) Start(ctx context.Context) error {
	settings := s.Config.Settings()

	jobs := []job{
		{"overtime-sweep", gocron.DurationJob(settings.OvertimeSweepInterval()), s.SweepOvertime},
		{"config-reload", gocron.DurationJob(settings.ConfigReloadInterval()), s.ReloadConfig},
	}
	if s.Users != nil {
		jobs = append(jobs, job{"user-sync", gocron.DurationJob(settings.UserSyncInterval()), s.SyncUsers})
	}

	for _, j := range jobs {
		run := j.run
		if _, err := s.sched.NewJob(
			j.def,
			gocron.NewTask(func() { run(ctx) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return eris.Wrapf(err, "failed to schedule %s", j.name)
		}
	}

	s.sched.Start()
	s.logger.Info().Int("jobs", len(jobs)).Msg("[Scheduler] started")
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) SweepOvertime(ctx context.Context) {
	if _, err := s.Results.SweepOvertime(ctx); err != nil {
		s.logger.Error().Err(err).Msg("[Scheduler] overtime sweep failed")
	}
}

func (s *Scheduler) ReloadConfig(ctx context.Context) {
	if err := s.Config.Reload(ctx); err != nil {
		s.logger.Error().Err(err).Msg("[Scheduler] config reload failed")
	}
}

func (s *Scheduler) SyncUsers(ctx context.Context) {
	if _, err := s.Users.Sync(ctx); err != nil {
		s.logger.Error().Err(err).Msg("[Scheduler] user sync failed")
	}
}
