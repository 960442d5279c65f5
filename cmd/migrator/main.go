// The migrator brings the document store up to date: it builds the
// collection indexes the schedulers and the delivery worker query against,
// then exits. farrierd ensures the same indexes at startup; running the
// migrator first keeps index builds out of the daemon's boot path.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/config"
	"github.com/stablehq/farrier/internal/db"
	"github.com/stablehq/farrier/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Index builds on a populated collection can take a while.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := db.New(ctx, db.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	start := time.Now()
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	logger.Info("indexes ensured",
		zap.String("database", cfg.MongoDatabase),
		zap.Duration("took", time.Since(start)),
	)

	return nil
}
