package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/utils/pkg/dberror"
	"github.com/malbeclabs/netstate/utils/pkg/retry"
)

type Config struct {
	// URL, when set, is used as the connection string and the individual
	// connection fields are ignored.
	URL string

	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration

	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.URL == "" {
		if cfg.Database == "" {
			return errors.New("postgres database is required")
		}
		if cfg.Username == "" {
			return errors.New("postgres username is required")
		}
		if cfg.Host == "" {
			cfg.Host = "localhost"
		}
		if cfg.Port == "" {
			cfg.Port = "5432"
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 1
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = time.Hour
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 30 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = dberror.IsTransient
	}
	return nil
}

func (cfg *Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Client owns the pgx pool of a PostgreSQL snapshot store and exposes it
// through database/sql.
type Client struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewClient connects and pings the server, retrying transient failures.
// Failure to reach the server yields dataset.ErrStoreUnavailable.
func NewClient(ctx context.Context, log *slog.Logger, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create postgres pool: %w", dataset.ErrStoreUnavailable, err)
	}

	err = retry.Do(ctx, cfg.Retry, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping postgres: %w", dataset.ErrStoreUnavailable, err)
	}

	log.Info("postgres: client initialized",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return &Client{log: log, pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Dialect() dataset.Dialect { return Dialect{} }

func (c *Client) Close() error {
	err := c.db.Close()
	c.pool.Close()
	return err
}
