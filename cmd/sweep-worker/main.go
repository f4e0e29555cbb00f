package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/clinicore/provider-scheduling/internal/config"
	"github.com/clinicore/provider-scheduling/internal/db"
	"github.com/clinicore/provider-scheduling/internal/logging"
	redisclient "github.com/clinicore/provider-scheduling/internal/redis"
	"github.com/clinicore/provider-scheduling/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "sweep-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, "sweep-worker")
	log.Info().
		Str("env", cfg.Env).
		Str("expire_cron", cfg.ExpireSweepCron).
		Str("past_cron", cfg.PastSweepCron).
		Msg("sweep-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PGMaxConns))
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := schedule.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := schedule.NewService(repo, locker, cfg, log)

	// Run both sweeps once at startup so a restart never extends the
	// window in which abandoned requests hold their slots.
	runExpireSweep(rootCtx, svc, log)
	runPastSweep(rootCtx, svc, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ExpireSweepCron, func() { runExpireSweep(rootCtx, svc, log) }); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.ExpireSweepCron).Msg("invalid expire sweep schedule")
	}
	if _, err := c.AddFunc(cfg.PastSweepCron, func() { runPastSweep(rootCtx, svc, log) }); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.PastSweepCron).Msg("invalid past sweep schedule")
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping sweep worker")
	<-c.Stop().Done()
}

func runExpireSweep(ctx context.Context, svc *schedule.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireStale(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expire sweep error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expire sweep complete")
}

func runPastSweep(ctx context.Context, svc *schedule.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkPastSlots(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("past-slot sweep error")
		return
	}
	log.Info().Int64("marked_past", marked).Dur("took", time.Since(start)).Msg("past-slot sweep complete")
}
