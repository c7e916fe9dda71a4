// Package bootstrap wires the process-wide dependencies shared by every command.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"signalbridge/src/cache"
	"signalbridge/src/connectors"
	"signalbridge/src/database"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"
)

// LoadEnv reads an optional .env file. Variables already set win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("failed to load .env file")
	}
}

// SetupLogger applies LOG_LEVEL and LOG_FORMAT (text or json).
func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

// InitDatabases opens the main and read-only connections.
func InitDatabases() error {
	if err := database.InitMainDB(); err != nil {
		return fmt.Errorf("main database: %w", err)
	}
	if err := database.InitReadOnlyDB(); err != nil {
		return fmt.Errorf("read-only database: %w", err)
	}
	return nil
}

// NewExchange builds the Binance client. With REDIS_ADDR set, request weight is
// shared through Redis across instances; the Redis client is returned for reuse
// and is nil otherwise.
func NewExchange(ctx context.Context) (*connectors.BinanceClient, *redis.Client, error) {
	rdb, err := cache.NewRedisClient(ctx, cache.GetConfig())
	if err != nil {
		return nil, nil, err
	}

	cfg := connectors.GetConfig()
	if rdb == nil {
		logger.Info("REDIS_ADDR not set, exchange rate limiting is local only")
		return connectors.NewBinanceClient(cfg, nil), nil, nil
	}
	return connectors.NewBinanceClient(cfg, cache.NewRateLimiter(rdb)), rdb, nil
}
