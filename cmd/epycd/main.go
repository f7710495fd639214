package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/config"
	"github.com/JonathanHarford/epyc/internal/engine"
	"github.com/JonathanHarford/epyc/internal/game"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/moderation"
	"github.com/JonathanHarford/epyc/internal/notify"
	"github.com/JonathanHarford/epyc/internal/repository/postgres"
	"github.com/JonathanHarford/epyc/internal/scheduler"
	"github.com/JonathanHarford/epyc/internal/season"
	"github.com/JonathanHarford/epyc/internal/selector"
	"github.com/JonathanHarford/epyc/internal/service"
	"github.com/JonathanHarford/epyc/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	store, err := postgres.NewStore(ctx, cfg.DB.DSN(), clock)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer store.Close()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NATSURL != "" {
		conn, err := notify.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer conn.Close()
		notifier = notify.NewNATSNotifier(conn)
	}

	sched := scheduler.New(store, clock, scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	}, func(job models.ScheduledJob) {
		notifier.NotifyOperators(ctx, "job.failed", map[string]any{
			"job_id":   job.ID.String(),
			"job_type": string(job.Type),
			"target":   job.TargetID.String(),
		})
	})

	checker := moderation.NewWordlistChecker(cfg.BannedWords)
	eng := engine.New(store, store, sched, selector.NewPush(store), notifier, checker, clock)
	gameMgr := game.NewManager(store, store, store, eng, sched, notifier, clock)
	seasonMgr := season.NewManager(store, store, gameMgr, eng, sched, notifier, clock)
	sessions := session.NewStore(store, sched, clock)
	svc := service.New(store, seasonMgr, gameMgr, eng, sessions, clock)
	svc.RegisterJobHandlers(sched)

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer sched.Stop()

	if err := sessions.SchedulePurge(ctx); err != nil {
		log.Fatal().Err(err).Msg("arm session purge")
	}

	log.Info().
		Str("database", cfg.DB.Database).
		Str("nats_url", cfg.NATSURL).
		Msg("epyc orchestrator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
}
