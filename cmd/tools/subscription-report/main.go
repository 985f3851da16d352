// cmd/tools/subscription-report/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"podpiska-billing/internal/common/config"
	"podpiska-billing/internal/common/database"
	"podpiska-billing/internal/common/logger"
	"podpiska-billing/internal/store"
)

func main() {
	limit := pflag.IntP("limit", "n", 30, "Number of subscriptions to show, latest expiry first")
	configPath := pflag.StringP("config", "c", "", "Path to a config file (default: configs/config.yaml)")
	format := pflag.StringP("format", "f", "table", "Output format: table or json")
	pflag.Parse()

	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "Error: --limit must be at least 1")
		os.Exit(1)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err == nil {
		err = pg.Ping(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	subs, err := store.NewPostgres(pg.DB, logger.NewNoOpLogger()).ListRecent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading subscriptions: %v\n", err)
		os.Exit(1)
	}

	if err := render(os.Stdout, subs, *format, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
