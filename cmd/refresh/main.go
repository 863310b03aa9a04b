// Command refresh runs a single refresh cycle, prints the result as JSON and
// exits non-zero when every state failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mandi-prices/internal/app"
	"mandi-prices/internal/config"
	"mandi-prices/internal/logging"
	"mandi-prices/internal/services/refresh"

	"github.com/joho/godotenv"
)

var (
	date   = flag.String("date", "", "partition date YYYY-MM-DD (default today)")
	states = flag.String("states", "ALL", "comma separated states, or ALL")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.Refresh.Refresh(ctx, refresh.Request{Date: *date, States: strings.Split(*states, ",")})
	if err != nil {
		logger.WithError(err).Fatal("Refresh did not run")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)

	if err := res.Err(); err != nil {
		logger.WithError(err).Error("Refresh failed")
		os.Exit(1)
	}
}
