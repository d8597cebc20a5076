// Command botlist-refresh pulls the current twitchinsights bot list and
// swaps it into the Redis bot directory. The server refreshes the
// directory on its own schedule; this tool exists for a forced refresh
// after an incident or for seeding a fresh Redis instance.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/matthewgrima/twitchcommands/internal/botlist"
	"github.com/matthewgrima/twitchcommands/internal/redis"
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun   = flag.Bool("dry-run", false, "Fetch and report, don't write to Redis")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
		timeout  = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	logins, err := botlist.NewClient().ActiveBots(ctx, time.Now())
	if err != nil {
		log.Fatalf("Failed to fetch bot list: %v", err)
	}
	slog.Info("Fetched bot list", "active_bots", len(logins), "duration_ms", time.Since(start).Milliseconds())

	if *dryRun {
		slog.Info("Dry run, not writing to Redis")
		return
	}

	client, err := redis.NewClient(*redisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	if err := redis.NewBotDirectory(client).ReplaceAll(ctx, logins); err != nil {
		log.Fatalf("Failed to swap bot directory: %v", err)
	}

	slog.Info("Bot directory refreshed", "size", len(logins))
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
