package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bryanveloso/eventfabric/internal/config"
	"github.com/bryanveloso/eventfabric/internal/store"

	_ "github.com/lib/pq"
)

// healthcheckCmd pings Postgres and Redis and exits non-zero on failure; it
// exists for container orchestrators to shell out to rather than scraping an
// HTTP endpoint before the process is accepting connections.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check database and Redis connectivity and exit",
	RunE:  runHealthcheck,
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := store.Open(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	fmt.Println("ok")
	return nil
}
