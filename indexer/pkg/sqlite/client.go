package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver with database/sql

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

const (
	DefaultBusyTimeout = 5 * time.Second
	DefaultJournalMode = "WAL"
)

type Config struct {
	// Path of the database file.
	Path string

	// CreateDir creates the parent directory of Path when it is missing.
	// Otherwise a missing directory is reported as ErrStoreUnavailable.
	CreateDir bool

	BusyTimeout time.Duration
	JournalMode string
}

func (cfg *Config) Validate() error {
	if cfg.Path == "" {
		return errors.New("sqlite path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = DefaultJournalMode
	}
	return nil
}

// DSN returns the go-sqlite3 connection string. Transactions begin
// IMMEDIATE so that concurrent writers queue on the busy timeout instead of
// failing on lock upgrade.
func (cfg *Config) DSN() string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", cfg.JournalMode)
	q.Set("_foreign_keys", "on")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Client owns the database handle of a SQLite snapshot store.
type Client struct {
	log *slog.Logger
	db  *sql.DB
	cfg Config
}

// NewClient opens the database file, creating it if needed. A missing parent
// directory or an unopenable file yields dataset.ErrStoreUnavailable.
func NewClient(ctx context.Context, log *slog.Logger, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(cfg.Path)
	if _, err := os.Stat(dir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", dataset.ErrStoreUnavailable, err)
		}
		if !cfg.CreateDir {
			return nil, fmt.Errorf("%w: directory %s does not exist", dataset.ErrStoreUnavailable, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory %s: %w", dataset.ErrStoreUnavailable, dir, err)
		}
		log.Info("sqlite: created database directory", "dir", dir)
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite database: %w", dataset.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to open %s: %w", dataset.ErrStoreUnavailable, cfg.Path, err)
	}

	log.Info("sqlite: client initialized", "path", cfg.Path, "journal_mode", cfg.JournalMode)
	return &Client{log: log, db: db, cfg: cfg}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Dialect() dataset.Dialect { return Dialect{} }

func (c *Client) Close() error {
	return c.db.Close()
}
