package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"mandi-prices/internal/app"
	"mandi-prices/internal/config"
	"mandi-prices/internal/logging"
	"mandi-prices/internal/services/refresh"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	schedule   = flag.String("cron", "", "cron schedule, overrides REFRESH_CRON")
	runNow     = flag.Bool("now", false, "run one refresh immediately at startup")
	runTimeout = flag.Duration("timeout", 2*time.Hour, "upper bound for a single refresh run")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}

	expr := cfg.RefreshCron
	if *schedule != "" {
		expr = *schedule
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var iteration atomic.Int64
	job := func() {
		n := iteration.Add(1)
		runOnce(ctx, a, logger.WithField("iteration", n), *runTimeout)
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger)))
	if _, err := c.AddFunc(expr, job); err != nil {
		logger.WithError(err).WithField("cron", expr).Fatal("Invalid refresh schedule")
	}
	c.Start()
	logger.WithField("cron", expr).WithField("pid", os.Getpid()).Info("Refresh daemon started")

	if *runNow {
		job()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for running refresh")
	<-c.Stop().Done()
}

func runOnce(parent context.Context, a *app.App, log logrus.FieldLogger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	res, err := a.Refresh.Refresh(ctx, refresh.Request{})
	if err != nil {
		log.WithError(err).Error("Refresh did not run")
		return
	}
	entry := log.WithField("run_id", res.RunID).
		WithField("success", res.SuccessCount).
		WithField("errors", res.ErrorCount).
		WithField("status", res.RefreshStatus)
	if err := res.Err(); err != nil {
		entry.WithError(err).Error("Refresh failed for every state")
		return
	}
	entry.Info("Refresh completed")
}
