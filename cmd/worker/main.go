package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"innkeeper/internal/app"
	"innkeeper/internal/config"
	"innkeeper/internal/jobs"
	"innkeeper/internal/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info", false).WithError(err).Fatal("config load failed")
	}
	log := logger.New(cfg.LogLevel, cfg.IsProdLike()).WithField("service", "worker")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}()

	scheduler := jobs.NewScheduler(a.Jobs(), log, jobs.Schedules{
		NoShow:  cfg.NoShowSchedule,
		Archive: cfg.ArchiveSchedule,
	})

	if *once {
		scheduler.RunNow()
		log.Info("jobs completed")
		return
	}

	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("scheduler start failed")
	}
	log.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping scheduler")
	<-scheduler.Stop().Done()
	log.Info("scheduler stopped gracefully")
}
