package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"arena-ladder/config"
	"arena-ladder/handlers"
	"arena-ladder/models"
	"arena-ladder/services"
	"arena-ladder/workers"
)

func setupLogging(settings config.Settings) {
	zerolog.TimeFieldFormat = time.RFC3339
	if settings.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// withInjector loads settings, builds the injector and runs fn with it.
func withInjector(ctx context.Context, fn func(context.Context, do.Injector) error) error {
	settings, err := config.FromEnv()
	if err != nil {
		return err
	}
	setupLogging(settings)

	i := newInjector(settings)
	defer func() { _ = i.Shutdown() }()
	return fn(ctx, i)
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withInjector(ctx, func(ctx context.Context, i do.Injector) error {
		settings := do.MustInvoke[config.Settings](i)
		db := do.MustInvoke[*gorm.DB](i)

		app := fiber.New(fiber.Config{
			BodyLimit: 512 * 1024 * 1024,
		})
		app.Use(recover.New())
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(splitOrigins(settings.AllowedOrigins), ","),
			AllowMethods: "GET,POST,PATCH,OPTIONS",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		}))

		handlers.SetupArenaClientRoutes(app, db, do.MustInvoke[*handlers.ArenaClientHandler](i))
		handlers.SetupMatchRequestRoutes(app, db, settings.GatewayToken, do.MustInvoke[*handlers.MatchRequestHandler](i))
		handlers.SetupAdminRoutes(app, db, settings.GatewayToken, do.MustInvoke[*handlers.AdminHandler](i))

		sched := do.MustInvoke[*workers.Scheduler](i)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Shutdown() }()

		port := cmd.String("port")
		if port == "" {
			port = settings.Port
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(":" + port)
		}()
		log.Info().Str("port", port).Msg("[Server] arena ladder running")

		select {
		case err := <-errCh:
			return eris.Wrap(err, "server stopped")
		case <-ctx.Done():
		}
		log.Info().Msg("[Server] shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
}

func runMigrate(ctx context.Context, _ *cli.Command) error {
	return withInjector(ctx, func(ctx context.Context, i do.Injector) error {
		db := do.MustInvoke[*gorm.DB](i)
		if err := models.Migrate(db.WithContext(ctx)); err != nil {
			return eris.Wrap(err, "failed to migrate database")
		}
		log.Info().Msg("[Migrate] schema up to date")
		return nil
	})
}

func runSweep(ctx context.Context, _ *cli.Command) error {
	return withInjector(ctx, func(ctx context.Context, i do.Injector) error {
		n, err := do.MustInvoke[*services.ResultService](i).SweepOvertime(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("cancelled", n).Msg("[Sweep] done")
		return nil
	})
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func main() {
	cmd := &cli.Command{
		Name:  "arena-ladder",
		Usage: "ladder match scheduling for the bot arena",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and background jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Usage:   "overrides PORT",
						Sources: cli.EnvVars("ARENA_LADDER_PORT"),
					},
				},
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema",
				Action: runMigrate,
			},
			{
				Name:   "sweep",
				Usage:  "cancel overtime matches once and exit",
				Action: runSweep,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("arena-ladder failed")
	}
}
