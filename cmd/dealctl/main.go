// Command dealctl runs maintenance tasks against the deal-service database
// and the CRM: manager backfill, connectivity checks and manual pushes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/leadflow/deal-service/internal/app"
	"github.com/leadflow/deal-service/internal/bootstrap"
	"github.com/leadflow/deal-service/internal/cli"
	"github.com/leadflow/deal-service/internal/config"
	"github.com/leadflow/deal-service/internal/store"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cli.NewRootOptions(load)
	err := cli.NewRootCommand(opts).ExecuteContext(ctx)
	opts.Close()
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func load(ctx context.Context) (*cli.Runtime, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, nil, err
	}

	dbpool, err := bootstrap.OpenDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	crm, closeTokens := bootstrap.NewCRMClient(ctx, cfg, logger)

	rt := &cli.Runtime{
		Repo:       store.NewPostgresRepository(dbpool),
		CRM:        crm,
		Assignment: cfg.Assignment(),
		Batch: app.BatchOptions{
			ChunkSize:  cfg.PushBatchChunk,
			ItemDelay:  cfg.PushBatchDelay(),
			ChunkPause: cfg.PushBatchPause(),
		},
		Logger: logger,
	}
	return rt, func() {
		closeTokens()
		dbpool.Close()
	}, nil
}
