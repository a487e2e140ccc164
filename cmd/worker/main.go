package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/queue"
	"campusattend/internal/settings"
	"campusattend/internal/store"
	"campusattend/internal/sweeper"
)

// Worker runs the absence sweep on a schedule and whenever an administrator
// requests one through the job queue.
func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logrus.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logrus.WithError(err).Fatal("migrate failed")
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	set := settings.NewService(settings.NewPGRepository(db.Client), redisClient.Client, settings.Values{
		DistanceThreshold:  cfg.DefaultDistanceMeters,
		OTPValidityMinutes: cfg.DefaultOTPValidityMinutes,
	})
	att := attendance.NewService(attendance.NewRepository(db.Client), set, attendance.Options{
		CodeLength: cfg.CodeLength,
		SweepBatch: cfg.SweepBatch,
		Location:   cfg.Location(),
	})

	runner := sweeper.NewRunner(att, 2*time.Minute)
	sched, err := runner.Schedule(cfg.SweepSchedule)
	if err != nil {
		logrus.WithError(err).WithField("schedule", cfg.SweepSchedule).Fatal("invalid sweep schedule")
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// Catch up on codes that expired while no worker was running.
	if _, err := runner.Run(ctx, "startup"); err != nil {
		logrus.WithError(err).Warn("startup sweep incomplete")
	}

	logrus.WithField("schedule", cfg.SweepSchedule).Info("worker started")
	if cfg.QueueBackend == "memory" {
		// An in-memory queue is private to the API process; only the schedule applies here.
		<-ctx.Done()
	} else {
		q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		if err := queue.Run(ctx, q, runner.Handlers()); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("queue consumer stopped")
		}
	}
	logrus.Info("worker stopped")
}
