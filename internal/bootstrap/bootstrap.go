/**
 * @description
 * Shared start-up wiring for the service and the dealctl CLI: the Postgres
 * pool, the shared token store and the authenticated CRM client.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/redis/go-redis/v9: Shared CRM access-token store.
 */
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/deal-service/internal/config"
	"github.com/leadflow/deal-service/pkg/crmauth"
	"github.com/leadflow/deal-service/pkg/crmclient"
)

// OpenDatabase connects a pgx pool and verifies it with a ping.
func OpenDatabase(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// PgBouncer transaction pooling cannot hold prepared statements.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connection established")
	return pool, nil
}

// OpenTokenStore returns a Redis-backed token store when redisURL is set and
// reachable, and an in-process store otherwise. The returned func closes the
// Redis client.
func OpenTokenStore(ctx context.Context, redisURL string, logger *slog.Logger) (crmauth.TokenStore, func()) {
	if redisURL == "" {
		logger.Info("REDIS_URL not set; crm tokens are cached in-process only")
		return crmauth.NewMemoryTokenStore(), func() {}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL; falling back to in-process token cache", "error", err)
		return crmauth.NewMemoryTokenStore(), func() {}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable; falling back to in-process token cache", "error", err)
		client.Close()
		return crmauth.NewMemoryTokenStore(), func() {}
	}

	logger.Info("redis token store connected")
	return crmauth.NewRedisTokenStore(client, "deal-service"), func() { client.Close() }
}

// NewCRMClient wires the token cache and the CRM client from cfg.
func NewCRMClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*crmclient.Client, func()) {
	store, closeStore := OpenTokenStore(ctx, cfg.RedisURL, logger)
	tokens := crmauth.NewTokenCache(cfg.CRMAuth(), store, &http.Client{Timeout: cfg.CRMTimeout()}, logger)
	client := crmclient.NewClient(cfg.CRMClient(), tokens, logger)
	return client, closeStore
}
