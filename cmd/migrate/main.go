package main

import (
	"context"

	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/db"
	"github.com/aegishook/aegishook/internal/logging"
)

const serviceName = "aegishook-migrate"

// Standalone migration runner for deploy pipelines. The intake service
// also migrates at startup; this binary exists so schema changes can be
// applied before rolling the services.
func main() {
	cfg := config.FromEnv()
	ctx := context.Background()
	logger := logging.New(serviceName)

	pool, err := db.Connect(ctx, cfg.DSN(), serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}
	logger.Plain().Info("migrations applied")
}
