package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"raffle-engine/internal/common/config"
	"raffle-engine/internal/common/logger"
)

// Client is the connection pool behind the postgres raffle store.
type Client struct {
	*sql.DB
}

// Open configures the pool and waits until the server answers, retrying
// cfg.Postgres.ConnectAttempts times with a growing pause.
func Open(ctx context.Context, cfg *config.Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	attempts := cfg.Postgres.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	host := dsnHost(cfg.Postgres.DSN)

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt == attempts {
			db.Close()
			return nil, fmt.Errorf("failed to ping database at %s after %d attempts: %w", host, attempts, err)
		}
		logger.Warn().Err(err).Str("host", host).Int("attempt", attempt).Msg("PostgreSQL not reachable yet")

		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	logger.Info().
		Str("host", host).
		Int("max_open_conns", cfg.Postgres.MaxOpenConns).
		Bool("auto_migrate", cfg.Postgres.AutoMigrate).
		Msg("PostgreSQL client initialized")

	return &Client{DB: db}, nil
}

// HealthCheck pings the server and reports pool exhaustion as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.PingContext(ctx); err != nil {
		return err
	}
	stats := c.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections && stats.WaitCount > 0 {
		return fmt.Errorf("connection pool exhausted: %d in use, %d waiting", stats.InUse, stats.WaitCount)
	}
	return nil
}

// dsnHost keeps credentials out of the logs.
func dsnHost(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
